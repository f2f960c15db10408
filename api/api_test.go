package api_test

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/granja/api"
	"github.com/relabs-tech/granja/core/access"
	"github.com/relabs-tech/granja/core/client"
	"github.com/relabs-tech/granja/core/memstore"
	"github.com/relabs-tech/granja/core/resource"
	"github.com/relabs-tech/granja/farm"
)

const secret = "api-test-secret"

type response struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Message string            `json:"message"`
	Kind    resource.Kind     `json:"kind"`
	Errors  map[string]string `json:"errors"`
}

type testAPI struct {
	t       *testing.T
	handler http.Handler
	store   *memstore.Store
}

func newTestAPI(t *testing.T) *testAPI {
	remote := mux.NewRouter()
	store := memstore.New(remote)
	records := client.NewRecords(client.NewWithRouter(remote))

	router := mux.NewRouter()
	a := api.New(&api.Builder{
		Router:   router,
		Store:    farm.MustNew(&farm.Builder{Remote: records}),
		Accounts: records,
		Jwt:      access.JwtMiddlewareBuilder{Secret: secret},
		Now:      func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	return &testAPI{t: t, handler: a.Handler(), store: store}
}

func token(t *testing.T, id string) string {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":    id,
		"email": id + "@example.com",
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func (ta *testAPI) send(req *http.Request, token string) (int, response) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)

	var res response
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(ta.t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	}
	return rec.Code, res
}

func (ta *testAPI) do(method, path, token string, body interface{}) (int, response) {
	var reader *bytes.Reader
	if body != nil {
		j, err := json.Marshal(body)
		require.NoError(ta.t, err)
		reader = bytes.NewReader(j)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return ta.send(req, token)
}

func (ta *testAPI) upload(method, path, token string, payload interface{}, field, name, contentType string, data []byte) (int, response) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	j, err := json.Marshal(payload)
	require.NoError(ta.t, err)
	require.NoError(ta.t, w.WriteField(client.JSONPayloadField, string(j)))
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+name+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(ta.t, err)
	_, err = part.Write(data)
	require.NoError(ta.t, err)
	require.NoError(ta.t, w.Close())

	req := httptest.NewRequest(method, path, &b)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return ta.send(req, token)
}

func (ta *testAPI) createFarm(token, name string) string {
	status, res := ta.do(http.MethodPost, "/api/farms", token, map[string]interface{}{
		"nombre_granja": name,
		"codigo_rega":   "ES300300000001",
		"titular":       "Ana Pérez",
	})
	require.Equal(ta.t, http.StatusCreated, status, res.Message)
	var f farm.FarmDetail
	require.NoError(ta.t, json.Unmarshal(res.Data, &f))
	return f.ID
}

func TestPigletEntryRoundTrip(t *testing.T) {
	ta := newTestAPI(t)
	u1, u2 := token(t, "U1"), token(t, "U2")
	f1 := ta.createFarm(u1, "Granja Los Robles")

	status, res := ta.do(http.MethodPost, "/api/piglet-entries?granja="+f1, u1, map[string]interface{}{
		"nro_animales":     10,
		"peso_vivo":        25.5,
		"fecha_entrada":    "2024-01-10",
		"fecha_nacimiento": "2023-12-01",
		"procedencia":      "Granja X",
	})
	require.Equal(t, http.StatusCreated, status, res.Message)
	assert.True(t, res.Success)
	var created farm.PigletEntry
	require.NoError(t, json.Unmarshal(res.Data, &created))

	status, res = ta.do(http.MethodGet, "/api/piglet-entries/"+created.ID, u1, nil)
	require.Equal(t, http.StatusOK, status)
	var read farm.PigletEntry
	require.NoError(t, json.Unmarshal(res.Data, &read))
	assert.Equal(t, 10, read.NroAnimales)
	assert.Equal(t, 25.5, read.PesoVivo)
	assert.Equal(t, "2024-01-10", read.FechaEntrada)
	assert.Equal(t, "2023-12-01", read.FechaNacimiento)
	assert.Equal(t, "Granja X", read.Procedencia)
	assert.Equal(t, f1, read.Granja)

	status, res = ta.do(http.MethodGet, "/api/piglet-entries/"+created.ID, u2, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.False(t, res.Success)
	assert.Equal(t, resource.KindForbidden, res.Kind)

	status, res = ta.do(http.MethodPatch, "/api/piglet-entries/"+created.ID, u1, map[string]interface{}{"nro_lote": "L-7"})
	require.Equal(t, http.StatusOK, status, res.Message)
	var updated farm.PigletEntry
	require.NoError(t, json.Unmarshal(res.Data, &updated))
	assert.Equal(t, "L-7", updated.NroLote)
	assert.Equal(t, 10, updated.NroAnimales)

	status, _ = ta.do(http.MethodDelete, "/api/piglet-entries/"+created.ID, u2, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = ta.do(http.MethodDelete, "/api/piglet-entries/"+created.ID, u1, nil)
	assert.Equal(t, http.StatusOK, status)
	status, res = ta.do(http.MethodGet, "/api/piglet-entries/"+created.ID, u1, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, resource.KindNotFound, res.Kind)
}

func TestValidationEnvelope(t *testing.T) {
	ta := newTestAPI(t)
	u1 := token(t, "U1")
	f1 := ta.createFarm(u1, "Granja Los Robles")
	before := ta.store.Requests()

	status, res := ta.do(http.MethodPost, "/api/piglet-entries", u1, map[string]interface{}{
		"granja":           f1,
		"nro_animales":     0,
		"peso_vivo":        25.5,
		"fecha_entrada":    "2024-01-10",
		"fecha_nacimiento": "2023-12-01",
		"procedencia":      "Granja X",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, res.Success)
	assert.Equal(t, resource.KindValidation, res.Kind)
	assert.Contains(t, res.Errors, "nro_animales")
	assert.NotEmpty(t, res.Message)
	assert.Equal(t, before, ta.store.Requests())

	status, res = ta.do(http.MethodGet, "/api/piglet-entries?perPage=500", u1, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, res.Errors, "perPage")

	status, res = ta.do(http.MethodGet, "/api/piglet-entries?page=abc", u1, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, res.Errors, "page")
}

func TestAuthentication(t *testing.T) {
	ta := newTestAPI(t)

	status, res := ta.do(http.MethodGet, "/api/farms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, resource.KindUnauthorized, res.Kind)

	status, _ = ta.do(http.MethodGet, "/api/farms", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestFeedLabelUpload(t *testing.T) {
	ta := newTestAPI(t)
	u1 := token(t, "U1")
	f1 := ta.createFarm(u1, "Granja Los Robles")
	label := map[string]interface{}{
		"nombre_pienso":   "Inicio 1",
		"fabricante":      "Piensos SA",
		"fecha_recepcion": "2024-01-10",
	}

	status, res := ta.upload(http.MethodPost, "/api/feed-labels?granja="+f1, u1, label,
		"archivo", "etiqueta.pdf", "application/pdf", make([]byte, 15<<20))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, res.Errors, "archivo")
	assert.Equal(t, 0, ta.store.Len(farm.CollectionFeedLabels))

	png := make([]byte, 2<<20)
	copy(png, "\x89PNG\r\n\x1a\n")
	status, res = ta.upload(http.MethodPost, "/api/feed-labels?granja="+f1, u1, label,
		"archivo", "etiqueta.png", "image/png", png)
	require.Equal(t, http.StatusCreated, status, res.Message)
	var created farm.FeedLabel
	require.NoError(t, json.Unmarshal(res.Data, &created))
	assert.NotEmpty(t, created.Archivo)
	assert.NotEmpty(t, created.ArchivoURL)

	status, res = ta.do(http.MethodGet, "/api/feed-labels/search?granja="+f1+"&q=inicio", u1, nil)
	require.Equal(t, http.StatusOK, status)
	var list resource.List[farm.FeedLabel]
	require.NoError(t, json.Unmarshal(res.Data, &list))
	assert.Equal(t, 1, list.TotalItems)
}

func TestQueries(t *testing.T) {
	ta := newTestAPI(t)
	u1, u2 := token(t, "U1"), token(t, "U2")

	status, res := ta.do(http.MethodGet, "/api/farms/current", u1, nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, res.Success)
	assert.Contains(t, []string{"", "null"}, string(res.Data))

	f1 := ta.createFarm(u1, "Granja Los Robles")

	status, res = ta.do(http.MethodGet, "/api/farms/current", u1, nil)
	require.Equal(t, http.StatusOK, status)
	var current farm.FarmDetail
	require.NoError(t, json.Unmarshal(res.Data, &current))
	assert.Equal(t, f1, current.ID)

	var exists api.Exists
	_, res = ta.do(http.MethodGet, "/api/farms/exists?name=Granja%20Los%20Robles", u1, nil)
	require.NoError(t, json.Unmarshal(res.Data, &exists))
	assert.True(t, exists.Exists)
	_, res = ta.do(http.MethodGet, "/api/farms/exists?name=Granja%20Los%20Robles&excludeId="+f1, u1, nil)
	require.NoError(t, json.Unmarshal(res.Data, &exists))
	assert.False(t, exists.Exists)
	_, res = ta.do(http.MethodGet, "/api/farms/exists?name=Granja%20Los%20Robles", u2, nil)
	require.NoError(t, json.Unmarshal(res.Data, &exists))
	assert.False(t, exists.Exists)

	for _, m := range []map[string]interface{}{
		{"nombre_equipo": "Ventilador 1", "tipo_mantenimiento": "preventivo", "fecha_revision": "2024-01-01", "proxima_revision": "2024-02-01"},
		{"nombre_equipo": "Comedero 3", "tipo_mantenimiento": "correctivo", "fecha_revision": "2024-01-01", "proxima_revision": "2024-06-01"},
	} {
		status, res := ta.do(http.MethodPost, "/api/equipment-maintenance?granja="+f1, u1, m)
		require.Equal(t, http.StatusCreated, status, res.Message)
	}

	status, res = ta.do(http.MethodGet, "/api/equipment-maintenance/overdue?granja="+f1, u1, nil)
	require.Equal(t, http.StatusOK, status)
	var overdue resource.List[farm.EquipmentMaintenance]
	require.NoError(t, json.Unmarshal(res.Data, &overdue))
	require.Equal(t, 1, overdue.TotalItems)
	assert.Equal(t, "Ventilador 1", overdue.Items[0].NombreEquipo)

	status, res = ta.do(http.MethodGet, "/api/equipment-maintenance/overdue?granja="+f1+"&today=2024-12-31", u1, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(res.Data, &overdue))
	assert.Equal(t, 2, overdue.TotalItems)

	for _, d := range []string{"2024-01-05", "2024-02-05"} {
		status, res := ta.do(http.MethodPost, "/api/hazardous-waste?granja="+f1, u1, map[string]interface{}{
			"tipo_residuo": "Envases", "codigo_ler": "15 01 10*", "cantidad_kg": 3,
			"fecha_recogida": d, "gestor_autorizado": "Gestor SL",
		})
		require.Equal(t, http.StatusCreated, status, res.Message)
	}

	var count api.Count
	_, res = ta.do(http.MethodGet, "/api/hazardous-waste/count?granja="+f1, u1, nil)
	require.NoError(t, json.Unmarshal(res.Data, &count))
	assert.Equal(t, 2, count.Count)

	status, res = ta.do(http.MethodGet, "/api/hazardous-waste/range?granja="+f1+"&from=2024-01-01&to=2024-01-31", u1, nil)
	require.Equal(t, http.StatusOK, status)
	var waste resource.List[farm.HazardousWaste]
	require.NoError(t, json.Unmarshal(res.Data, &waste))
	assert.Equal(t, 1, waste.TotalItems)

	status, res = ta.do(http.MethodGet, "/api/hazardous-waste/range?from=2024-02-01&to=2024-01-01", u1, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, res.Errors, "to")

	status, res = ta.do(http.MethodGet, "/api/hazardous-waste/range?from=yesterday", u1, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, res.Errors, "from")
}

func TestPasswordReset(t *testing.T) {
	ta := newTestAPI(t)

	status, res := ta.do(http.MethodPost, "/api/auth/password-reset", "", map[string]string{"email": "no-mail"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, res.Errors, "email")

	status, res = ta.do(http.MethodPost, "/api/auth/password-reset", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, res.Errors, "email")

	status, res = ta.do(http.MethodPost, "/api/auth/password-reset", "", map[string]string{"email": "ana@example.com"})
	require.Equal(t, http.StatusOK, status, res.Message)
	assert.True(t, res.Success)
	resetToken := ta.store.ResetToken("ana@example.com")
	require.NotEmpty(t, resetToken)

	status, res = ta.do(http.MethodPost, "/api/auth/password-reset/confirm", "", map[string]string{
		"token": resetToken, "password": "short", "passwordConfirm": "other",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, res.Errors, "password")
	assert.Contains(t, res.Errors, "passwordConfirm")

	status, res = ta.do(http.MethodPost, "/api/auth/password-reset/confirm", "", map[string]string{
		"password": "long-enough", "passwordConfirm": "long-enough",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, res.Errors, "token")

	status, res = ta.do(http.MethodPost, "/api/auth/password-reset/confirm", "", map[string]string{
		"token": "unknown", "password": "long-enough", "passwordConfirm": "long-enough",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, res.Errors, "token")

	status, res = ta.do(http.MethodPost, "/api/auth/password-reset/confirm", "", map[string]string{
		"token": resetToken, "password": "long-enough", "passwordConfirm": "long-enough",
	})
	require.Equal(t, http.StatusOK, status, res.Message)
	assert.Equal(t, "long-enough", ta.store.Password("ana@example.com"))
}
