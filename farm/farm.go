// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package farm holds the records of a farm: the farm details themselves and the
registers kept per farm.

	farm details           datos_granja
	piglet entries         entradas_lechones
	feed labels            etiquetas_pienso
	equipment maintenance  mantenimiento_equipos
	environmental plans    planes_ambientales
	hazardous waste        recogidas_residuos

Every record belongs to the user who created it. All registers also belong to one of
the user's farms. Records are validated against the JSON schemas in schemas/ and the
cross-field rules in rules.go before they are written.
*/
package farm

import (
	"github.com/relabs-tech/granja/core/resource"
)

// the remote collections
const (
	CollectionFarmDetails          = "datos_granja"
	CollectionPigletEntries        = "entradas_lechones"
	CollectionFeedLabels           = "etiquetas_pienso"
	CollectionEquipmentMaintenance = "mantenimiento_equipos"
	CollectionEnvironmentalPlans   = "planes_ambientales"
	CollectionHazardousWaste       = "recogidas_residuos"
)

// ParentField links the registers to their farm
const ParentField = "granja"

// FarmDetail is the master data of a farm
type FarmDetail struct {
	resource.Meta
	NombreGranja    string `json:"nombre_granja"`
	CodigoREGA      string `json:"codigo_rega"`
	Titular         string `json:"titular"`
	NIF             string `json:"nif,omitempty"`
	Direccion       string `json:"direccion,omitempty"`
	Municipio       string `json:"municipio,omitempty"`
	Provincia       string `json:"provincia,omitempty"`
	Especie         string `json:"especie,omitempty"`
	CapacidadMaxima int    `json:"capacidad_maxima,omitempty"`
	Observaciones   string `json:"observaciones,omitempty"`
}

// PigletEntry records a batch of piglets arriving at a farm
type PigletEntry struct {
	resource.Meta
	Granja          string  `json:"granja,omitempty"`
	NroAnimales     int     `json:"nro_animales"`
	PesoVivo        float64 `json:"peso_vivo"`
	FechaEntrada    string  `json:"fecha_entrada"`
	FechaNacimiento string  `json:"fecha_nacimiento"`
	Procedencia     string  `json:"procedencia"`
	NroLote         string  `json:"nro_lote,omitempty"`
	Observaciones   string  `json:"observaciones,omitempty"`
}

// FeedLabel records a feed delivery together with a scan of its label
type FeedLabel struct {
	resource.Meta
	Granja         string  `json:"granja,omitempty"`
	NombrePienso   string  `json:"nombre_pienso"`
	Fabricante     string  `json:"fabricante"`
	Lote           string  `json:"lote,omitempty"`
	FechaRecepcion string  `json:"fecha_recepcion"`
	CantidadKg     float64 `json:"cantidad_kg,omitempty"`
	Archivo        string  `json:"archivo,omitempty"`
	ArchivoURL     string  `json:"archivo_url,omitempty"`
	Observaciones  string  `json:"observaciones,omitempty"`
}

// EquipmentMaintenance records a check of a piece of farm equipment
type EquipmentMaintenance struct {
	resource.Meta
	Granja            string  `json:"granja,omitempty"`
	NombreEquipo      string  `json:"nombre_equipo"`
	TipoMantenimiento string  `json:"tipo_mantenimiento"`
	FechaRevision     string  `json:"fecha_revision"`
	ProximaRevision   string  `json:"proxima_revision,omitempty"`
	Responsable       string  `json:"responsable,omitempty"`
	Realizado         bool    `json:"realizado"`
	Coste             float64 `json:"coste,omitempty"`
	Observaciones     string  `json:"observaciones,omitempty"`
}

// plan states
const (
	EstadoBorrador = "borrador"
	EstadoActivo   = "activo"
	EstadoCerrado  = "cerrado"
)

// EnvironmentalPlan is an environmental management plan of a farm
type EnvironmentalPlan struct {
	resource.Meta
	Granja      string   `json:"granja,omitempty"`
	Titulo      string   `json:"titulo"`
	FechaInicio string   `json:"fecha_inicio"`
	FechaFin    string   `json:"fecha_fin,omitempty"`
	Responsable string   `json:"responsable,omitempty"`
	Medidas     []string `json:"medidas,omitempty"`
	Estado      string   `json:"estado,omitempty"`
}

// HazardousWaste records a collection of hazardous waste by an authorised handler
type HazardousWaste struct {
	resource.Meta
	Granja           string  `json:"granja,omitempty"`
	TipoResiduo      string  `json:"tipo_residuo"`
	CodigoLER        string  `json:"codigo_ler"`
	CantidadKg       float64 `json:"cantidad_kg"`
	FechaRecogida    string  `json:"fecha_recogida"`
	GestorAutorizado string  `json:"gestor_autorizado"`
	NroDocumento     string  `json:"nro_documento,omitempty"`
	Observaciones    string  `json:"observaciones,omitempty"`
}
