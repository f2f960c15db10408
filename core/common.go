// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package core holds the types shared by the record accessors and the sinks which
// consume their changes.
package core

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// Operation represents a resource operation, one of Create, Read, Update, Delete, List
type Operation string

// all supported operations
const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationList   Operation = "list"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationCreate, OperationRead, OperationUpdate, OperationDelete, OperationList:
		return nil
	default:
		return fmt.Errorf("%s is not valid Operation", s)
	}
}

// Notifier is an interface to receive notifications about modified records. The
// payload is the JSON of the record after the operation, or of the deleted record.
//
// Notify must not block for long and must not fail the operation which triggered it.
type Notifier interface {
	Notify(ctx context.Context, resource string, operation Operation, payload []byte)
}
