// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package farm

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/relabs-tech/granja/core"
	"github.com/relabs-tech/granja/core/access"
	"github.com/relabs-tech/granja/core/filter"
	"github.com/relabs-tech/granja/core/resource"
	"github.com/relabs-tech/granja/core/schema"
)

//go:embed schemas
var schemaFS embed.FS

// the schema identifiers
const (
	SchemaFarmDetail           = "https://granja.local/schemas/farm-detail.json"
	SchemaPigletEntry          = "https://granja.local/schemas/piglet-entry.json"
	SchemaFeedLabel            = "https://granja.local/schemas/feed-label.json"
	SchemaEquipmentMaintenance = "https://granja.local/schemas/equipment-maintenance.json"
	SchemaEnvironmentalPlan    = "https://granja.local/schemas/environmental-plan.json"
	SchemaHazardousWaste       = "https://granja.local/schemas/hazardous-waste.json"
)

// the public resource names
const (
	ResourceFarms                = "farms"
	ResourcePigletEntries        = "piglet-entries"
	ResourceFeedLabels           = "feed-labels"
	ResourceEquipmentMaintenance = "equipment-maintenance"
	ResourceEnvironmentalPlans   = "environmental-plans"
	ResourceHazardousWaste       = "hazardous-waste"
)

// NewValidator returns a validator which knows the schemas of all farm records
func NewValidator() (*schema.Validator, error) {
	sub, err := fs.Sub(schemaFS, "schemas")
	if err != nil {
		return nil, err
	}
	return schema.NewValidatorFromFS(sub)
}

// Builder is a builder helper for the Store
type Builder struct {
	// Remote is the record store. Mandatory.
	Remote resource.Remote
	// Notifier receives a notification for every created, updated and deleted record. Optional.
	Notifier core.Notifier
	// Archive keeps copies of uploaded feed labels. Optional.
	Archive resource.Archive
}

// Store gives access to all records of the farms of a user
type Store struct {
	Farms                *resource.Accessor[FarmDetail]
	PigletEntries        *resource.Accessor[PigletEntry]
	FeedLabels           *resource.Accessor[FeedLabel]
	EquipmentMaintenance *resource.Accessor[EquipmentMaintenance]
	EnvironmentalPlans   *resource.Accessor[EnvironmentalPlan]
	HazardousWaste       *resource.Accessor[HazardousWaste]
}

// New creates the store
func New(b *Builder) (*Store, error) {
	if b.Remote == nil {
		return nil, fmt.Errorf("farm store: remote is missing")
	}
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("farm store: %w", err)
	}

	var opts []resource.Option
	if b.Notifier != nil {
		opts = append(opts, resource.WithNotifier(b.Notifier))
	}
	if b.Archive != nil {
		opts = append(opts, resource.WithArchive(b.Archive))
	}

	s := &Store{}
	s.Farms, err = resource.New(resource.Definition[FarmDetail]{
		Name:       ResourceFarms,
		Collection: CollectionFarmDetails,
		SchemaID:   SchemaFarmDetail,
	}, b.Remote, validator, opts...)
	if err != nil {
		return nil, err
	}

	// registers verify that their farm exists and belongs to the caller
	scoped := append([]resource.Option{resource.WithParent(s.Farms)}, opts...)

	s.PigletEntries, err = resource.New(resource.Definition[PigletEntry]{
		Name:        ResourcePigletEntries,
		Collection:  CollectionPigletEntries,
		SchemaID:    SchemaPigletEntry,
		ParentField: ParentField,
		Check:       checkPigletEntry,
	}, b.Remote, validator, scoped...)
	if err != nil {
		return nil, err
	}

	s.FeedLabels, err = resource.New(resource.Definition[FeedLabel]{
		Name:        ResourceFeedLabels,
		Collection:  CollectionFeedLabels,
		SchemaID:    SchemaFeedLabel,
		ParentField: ParentField,
		Attachments: map[string]resource.Attachment{
			"archivo": {Types: LabelTypes, MaxSize: MaxLabelSize},
		},
		Check: checkFeedLabel,
	}, b.Remote, validator, scoped...)
	if err != nil {
		return nil, err
	}

	s.EquipmentMaintenance, err = resource.New(resource.Definition[EquipmentMaintenance]{
		Name:        ResourceEquipmentMaintenance,
		Collection:  CollectionEquipmentMaintenance,
		SchemaID:    SchemaEquipmentMaintenance,
		ParentField: ParentField,
		Check:       checkEquipmentMaintenance,
	}, b.Remote, validator, scoped...)
	if err != nil {
		return nil, err
	}

	s.EnvironmentalPlans, err = resource.New(resource.Definition[EnvironmentalPlan]{
		Name:        ResourceEnvironmentalPlans,
		Collection:  CollectionEnvironmentalPlans,
		SchemaID:    SchemaEnvironmentalPlan,
		ParentField: ParentField,
		Blobs:       []string{"medidas"},
		Check:       checkEnvironmentalPlan,
	}, b.Remote, validator, scoped...)
	if err != nil {
		return nil, err
	}

	s.HazardousWaste, err = resource.New(resource.Definition[HazardousWaste]{
		Name:        ResourceHazardousWaste,
		Collection:  CollectionHazardousWaste,
		SchemaID:    SchemaHazardousWaste,
		ParentField: ParentField,
		Check:       checkHazardousWaste,
	}, b.Remote, validator, scoped...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// MustNew is New which panics on error
func MustNew(b *Builder) *Store {
	s, err := New(b)
	if err != nil {
		panic(err)
	}
	return s
}

// CurrentFarm returns the caller's most recent farm. A caller without farm gets
// nil and no error.
func (s *Store) CurrentFarm(ctx context.Context, caller *access.Caller) (*FarmDetail, error) {
	return s.Farms.First(ctx, caller, resource.Scope{})
}

// FarmNameExists returns true if the caller has another farm with this name
func (s *Store) FarmNameExists(ctx context.Context, caller *access.Caller, name, excludeID string) (bool, error) {
	return s.Farms.Exists(ctx, caller, resource.Scope{}, "nombre_granja", name, excludeID)
}

// PigletEntriesBetween lists the piglet entries of a farm which arrived between from and to
func (s *Store) PigletEntriesBetween(ctx context.Context, caller *access.Caller, farmID string, from, to time.Time, page resource.Page) (*resource.List[PigletEntry], error) {
	return s.PigletEntries.DateRange(ctx, caller, resource.Scope{Parent: farmID}, "fecha_entrada", from, to, page)
}

// CountPigletEntries returns the number of piglet entries of a farm
func (s *Store) CountPigletEntries(ctx context.Context, caller *access.Caller, farmID string) (int, error) {
	return s.PigletEntries.Count(ctx, caller, resource.Scope{Parent: farmID}, filter.Expression{})
}

// SearchFeedLabels lists the feed labels of a farm whose feed name contains name
func (s *Store) SearchFeedLabels(ctx context.Context, caller *access.Caller, farmID, name string, page resource.Page) (*resource.List[FeedLabel], error) {
	return s.FeedLabels.Search(ctx, caller, resource.Scope{Parent: farmID}, "nombre_pienso", name, page)
}

// OverdueMaintenance lists the equipment of a farm whose next check is before today
func (s *Store) OverdueMaintenance(ctx context.Context, caller *access.Caller, farmID string, today time.Time, page resource.Page) (*resource.List[EquipmentMaintenance], error) {
	return s.EquipmentMaintenance.Overdue(ctx, caller, resource.Scope{Parent: farmID}, "proxima_revision", today, page)
}

// EquipmentNameExists returns true if the farm has another maintenance record for this equipment
func (s *Store) EquipmentNameExists(ctx context.Context, caller *access.Caller, farmID, name, excludeID string) (bool, error) {
	return s.EquipmentMaintenance.Exists(ctx, caller, resource.Scope{Parent: farmID}, "nombre_equipo", name, excludeID)
}

// SearchEquipment lists the maintenance records of a farm whose equipment name contains name
func (s *Store) SearchEquipment(ctx context.Context, caller *access.Caller, farmID, name string, page resource.Page) (*resource.List[EquipmentMaintenance], error) {
	return s.EquipmentMaintenance.Search(ctx, caller, resource.Scope{Parent: farmID}, "nombre_equipo", name, page)
}

// PlansBetween lists the environmental plans of a farm starting between from and to
func (s *Store) PlansBetween(ctx context.Context, caller *access.Caller, farmID string, from, to time.Time, page resource.Page) (*resource.List[EnvironmentalPlan], error) {
	return s.EnvironmentalPlans.DateRange(ctx, caller, resource.Scope{Parent: farmID}, "fecha_inicio", from, to, page)
}

// WasteBetween lists the hazardous waste collections of a farm between from and to
func (s *Store) WasteBetween(ctx context.Context, caller *access.Caller, farmID string, from, to time.Time, page resource.Page) (*resource.List[HazardousWaste], error) {
	return s.HazardousWaste.DateRange(ctx, caller, resource.Scope{Parent: farmID}, "fecha_recogida", from, to, page)
}

// CountWaste returns the number of hazardous waste collections of a farm
func (s *Store) CountWaste(ctx context.Context, caller *access.Caller, farmID string) (int, error) {
	return s.HazardousWaste.Count(ctx, caller, resource.Scope{Parent: farmID}, filter.Expression{})
}
