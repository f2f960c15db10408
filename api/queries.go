// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"net/http"
	"time"

	"github.com/relabs-tech/granja/core/logger"
	"github.com/relabs-tech/granja/core/resource"
	"github.com/relabs-tech/granja/farm"
)

// Exists is the response of the duplicate checks
type Exists struct {
	Exists bool `json:"exists"`
}

// Count is the response of the count queries
type Count struct {
	Count int `json:"count"`
}

func (a *API) handleQueries() {
	nillog := logger.FromContext(nil)
	routes := []struct {
		path    string
		handler http.HandlerFunc
	}{
		{"/api/" + farm.ResourceFarms + "/current", a.currentFarm},
		{"/api/" + farm.ResourceFarms + "/exists", a.farmNameExists},
		{"/api/" + farm.ResourcePigletEntries + "/range", a.pigletEntriesBetween},
		{"/api/" + farm.ResourcePigletEntries + "/count", a.countPigletEntries},
		{"/api/" + farm.ResourceFeedLabels + "/search", a.searchFeedLabels},
		{"/api/" + farm.ResourceEquipmentMaintenance + "/overdue", a.overdueMaintenance},
		{"/api/" + farm.ResourceEquipmentMaintenance + "/exists", a.equipmentNameExists},
		{"/api/" + farm.ResourceEquipmentMaintenance + "/search", a.searchEquipment},
		{"/api/" + farm.ResourceEnvironmentalPlans + "/range", a.plansBetween},
		{"/api/" + farm.ResourceHazardousWaste + "/range", a.wasteBetween},
		{"/api/" + farm.ResourceHazardousWaste + "/count", a.countWaste},
	}
	for _, route := range routes {
		nillog.Debugln("  handle query route:", route.path, "GET")
		a.router.HandleFunc(route.path, route.handler).Methods(http.MethodGet)
	}
}

// dateParameter reads a date query parameter in the form 2006-01-02. An absent
// parameter is the zero time.
func dateParameter(r *http.Request, name string, fields map[string]string) time.Time {
	s := r.URL.Query().Get(name)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(resource.DateLayout, s)
	if err != nil {
		fields[name] = "must be a date like 2024-01-31"
	}
	return t
}

// rangeParameters reads the from and to query parameters together with the page.
// Either end may be left open.
func rangeParameters(r *http.Request) (from, to time.Time, page resource.Page, err error) {
	fields := map[string]string{}
	from = dateParameter(r, "from", fields)
	to = dateParameter(r, "to", fields)
	if len(fields) > 0 {
		err = resource.NewValidationError("invalid date range", fields)
		return
	}
	page, err = pageOf(r)
	return
}

func farmOf(r *http.Request) string {
	return r.URL.Query().Get(farm.ParentField)
}

func (a *API) currentFarm(w http.ResponseWriter, r *http.Request) {
	current, err := a.store.CurrentFarm(r.Context(), callerOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if current == nil {
		writeData(w, r, http.StatusOK, nil, "no hay ninguna granja registrada")
		return
	}
	writeData(w, r, http.StatusOK, current, "")
}

func (a *API) farmNameExists(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	exists, err := a.store.FarmNameExists(r.Context(), callerOf(r), q.Get("name"), q.Get("excludeId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, Exists{Exists: exists}, "")
}

func (a *API) pigletEntriesBetween(w http.ResponseWriter, r *http.Request) {
	from, to, page, err := rangeParameters(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := a.store.PigletEntriesBetween(r.Context(), callerOf(r), farmOf(r), from, to, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, list, "")
}

func (a *API) countPigletEntries(w http.ResponseWriter, r *http.Request) {
	n, err := a.store.CountPigletEntries(r.Context(), callerOf(r), farmOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, Count{Count: n}, "")
}

func (a *API) searchFeedLabels(w http.ResponseWriter, r *http.Request) {
	page, err := pageOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := a.store.SearchFeedLabels(r.Context(), callerOf(r), farmOf(r), r.URL.Query().Get("q"), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, list, "")
}

func (a *API) overdueMaintenance(w http.ResponseWriter, r *http.Request) {
	page, err := pageOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	today := a.now()
	if r.URL.Query().Get("today") != "" {
		fields := map[string]string{}
		today = dateParameter(r, "today", fields)
		if len(fields) > 0 {
			writeError(w, r, resource.NewValidationError("invalid date", fields))
			return
		}
	}
	list, err := a.store.OverdueMaintenance(r.Context(), callerOf(r), farmOf(r), today, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, list, "")
}

func (a *API) equipmentNameExists(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	exists, err := a.store.EquipmentNameExists(r.Context(), callerOf(r), farmOf(r), q.Get("name"), q.Get("excludeId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, Exists{Exists: exists}, "")
}

func (a *API) searchEquipment(w http.ResponseWriter, r *http.Request) {
	page, err := pageOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := a.store.SearchEquipment(r.Context(), callerOf(r), farmOf(r), r.URL.Query().Get("q"), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, list, "")
}

func (a *API) plansBetween(w http.ResponseWriter, r *http.Request) {
	from, to, page, err := rangeParameters(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := a.store.PlansBetween(r.Context(), callerOf(r), farmOf(r), from, to, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, list, "")
}

func (a *API) wasteBetween(w http.ResponseWriter, r *http.Request) {
	from, to, page, err := rangeParameters(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := a.store.WasteBetween(r.Context(), callerOf(r), farmOf(r), from, to, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, list, "")
}

func (a *API) countWaste(w http.ResponseWriter, r *http.Request) {
	n, err := a.store.CountWaste(r.Context(), callerOf(r), farmOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, Count{Count: n}, "")
}
