package audit_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/granja/core"
	"github.com/relabs-tech/granja/core/audit"
	"github.com/relabs-tech/granja/core/csql"
	"github.com/relabs-tech/granja/core/notify"
)

// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type TestService struct {
	Postgres         string `env:"POSTGRES" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
}

var testService TestService

func TestMain(m *testing.M) {
	if err := envdecode.Decode(&testService); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestTrail(t *testing.T) {
	if testService.Postgres == "" {
		t.Skip("audit tests require POSTGRES")
	}
	ctx := context.Background()
	db, err := csql.OpenWithSchema(ctx, testService.Postgres, testService.PostgresPassword, "_audit_unit_test_")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.ClearSchema(ctx))

	trail, err := audit.New(ctx, db)
	require.NoError(t, err)

	f := notify.NewFanout(trail)
	f.Notify(ctx, "farms", core.OperationCreate, []byte(`{"id":"f1","nombre_granja":"A"}`))
	f.Notify(ctx, "farms", core.OperationUpdate, []byte(`{"id":"f1","nombre_granja":"B"}`))
	f.Notify(ctx, "farms", core.OperationCreate, []byte(`{"id":"f2","nombre_granja":"C"}`))

	history, err := trail.History(ctx, "farms", "f1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, core.OperationCreate, history[0].Operation)
	assert.Equal(t, core.OperationUpdate, history[1].Operation)
	assert.JSONEq(t, `{"id":"f1","nombre_granja":"B"}`, string(history[1].Payload))
	assert.WithinDuration(t, time.Now(), history[1].CreatedAt, time.Hour*24)
}

func TestInvalidSchemaName(t *testing.T) {
	if testService.Postgres == "" {
		t.Skip("audit tests require POSTGRES")
	}
	_, err := csql.OpenWithSchema(context.Background(), testService.Postgres, testService.PostgresPassword, "bad; drop")
	assert.Error(t, err)
}
