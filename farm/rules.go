// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package farm

import (
	"time"

	"github.com/relabs-tech/granja/core/resource"
)

// MaxLabelSize is the size limit of feed label scans
const MaxLabelSize = 10 << 20

// LabelTypes are the file types accepted for feed label scans
var LabelTypes = []string{"application/pdf", "image/png", "image/jpeg", "image/webp"}

// dateOf returns the date part of a date field, which the store may return with
// a time of day
func dateOf(s string) string {
	if len(s) > len(resource.DateLayout) {
		return s[:len(resource.DateLayout)]
	}
	return s
}

// calendarDates reports the fields whose value is not a day of the calendar, like
// 2024-02-31. The schema checks the format only.
func calendarDates(fields map[string]string, dates map[string]string) {
	for field, value := range dates {
		if value == "" {
			continue
		}
		if _, err := time.Parse(resource.DateLayout, dateOf(value)); err != nil {
			fields[field] = "la fecha no existe"
		}
	}
}

// notBefore reports field if later is set and lies before earlier
func notBefore(fields map[string]string, field, later, earlier, message string) {
	if later == "" || earlier == "" {
		return
	}
	if dateOf(later) < dateOf(earlier) {
		fields[field] = message
	}
}

func checkPigletEntry(e PigletEntry) map[string]string {
	fields := map[string]string{}
	calendarDates(fields, map[string]string{"fecha_entrada": e.FechaEntrada, "fecha_nacimiento": e.FechaNacimiento})
	if len(fields) > 0 {
		return fields
	}
	notBefore(fields, "fecha_entrada", e.FechaEntrada, e.FechaNacimiento, "la fecha de entrada no puede ser anterior a la fecha de nacimiento")
	return fields
}

func checkEquipmentMaintenance(m EquipmentMaintenance) map[string]string {
	fields := map[string]string{}
	calendarDates(fields, map[string]string{"fecha_revision": m.FechaRevision, "proxima_revision": m.ProximaRevision})
	if len(fields) > 0 {
		return fields
	}
	notBefore(fields, "proxima_revision", m.ProximaRevision, m.FechaRevision, "la próxima revisión no puede ser anterior a la fecha de revisión")
	return fields
}

func checkEnvironmentalPlan(p EnvironmentalPlan) map[string]string {
	fields := map[string]string{}
	calendarDates(fields, map[string]string{"fecha_inicio": p.FechaInicio, "fecha_fin": p.FechaFin})
	if len(fields) > 0 {
		return fields
	}
	notBefore(fields, "fecha_fin", p.FechaFin, p.FechaInicio, "la fecha de fin no puede ser anterior a la fecha de inicio")
	seen := map[string]bool{}
	for _, m := range p.Medidas {
		if seen[m] {
			fields["medidas"] = "las medidas no pueden repetirse"
			break
		}
		seen[m] = true
	}
	return fields
}

func checkFeedLabel(l FeedLabel) map[string]string {
	fields := map[string]string{}
	calendarDates(fields, map[string]string{"fecha_recepcion": l.FechaRecepcion})
	return fields
}

func checkHazardousWaste(w HazardousWaste) map[string]string {
	fields := map[string]string{}
	calendarDates(fields, map[string]string{"fecha_recogida": w.FechaRecogida})
	return fields
}
