package test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"

	"github.com/relabs-tech/granja/core"
	"github.com/relabs-tech/granja/core/notify"
	"github.com/relabs-tech/granja/farm"
)

func TestIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(IntegrationTestSuite))
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (s *IntegrationTestSuite) token(id string) string {
	t, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":    id,
		"email": id + "@example.com",
	}).SignedString([]byte(JwtSecret))
	s.Require().NoError(err)
	return t
}

func (s *IntegrationTestSuite) do(method, path, token string, body interface{}) (int, envelope) {
	var j []byte
	if body != nil {
		var err error
		j, err = json.Marshal(body)
		s.Require().NoError(err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(j))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var res envelope
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	return rec.Code, res
}

func (s *IntegrationTestSuite) created(status int, res envelope) string {
	s.Require().Equal(http.StatusCreated, status, res.Message)
	var item struct {
		ID string `json:"id"`
	}
	s.Require().NoError(json.Unmarshal(res.Data, &item))
	return item.ID
}

// readNotifications consumes the notification topic until n notifications of the
// record arrived
func (s *IntegrationTestSuite) readNotifications(recordID string, n int) []notify.Notification {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   []string{s.kafkaAddr},
		Topic:     NotificationTopic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var result []notify.Notification
	for len(result) < n {
		m, err := reader.ReadMessage(ctx)
		s.Require().NoError(err)
		var notification notify.Notification
		s.Require().NoError(json.Unmarshal(m.Value, &notification))
		if notification.RecordID == recordID {
			result = append(result, notification)
		}
	}
	return result
}

func (s *IntegrationTestSuite) TestRecordChangesReachAllSinks() {
	u1 := s.token("U1")
	farmID := s.created(s.do(http.MethodPost, "/api/farms", u1, map[string]interface{}{
		"nombre_granja": "Granja El Encinar",
		"codigo_rega":   "ES300300000002",
		"titular":       "Luis Gómez",
	}))

	entryID := s.created(s.do(http.MethodPost, "/api/piglet-entries?granja="+farmID, u1, map[string]interface{}{
		"nro_animales":     40,
		"peso_vivo":        7.5,
		"fecha_entrada":    "2024-02-01",
		"fecha_nacimiento": "2024-01-05",
		"procedencia":      "Granja Y",
	}))
	status, res := s.do(http.MethodPatch, "/api/piglet-entries/"+entryID, u1, map[string]interface{}{"nro_lote": "L-12"})
	s.Require().Equal(http.StatusOK, status, res.Message)
	status, res = s.do(http.MethodDelete, "/api/piglet-entries/"+entryID, u1, nil)
	s.Require().Equal(http.StatusOK, status, res.Message)

	// changes of one record share a key and arrive in order
	notifications := s.readNotifications(entryID, 3)
	s.Equal([]core.Operation{core.OperationCreate, core.OperationUpdate, core.OperationDelete},
		[]core.Operation{notifications[0].Operation, notifications[1].Operation, notifications[2].Operation})
	for _, n := range notifications {
		s.Equal(farm.ResourcePigletEntries, n.Resource)
		s.Equal("U1", n.Identity)
	}
	var updated farm.PigletEntry
	s.Require().NoError(json.Unmarshal(notifications[1].Payload, &updated))
	s.Equal("L-12", updated.NroLote)

	history, err := s.trail.History(context.Background(), farm.ResourcePigletEntries, entryID)
	s.Require().NoError(err)
	s.Require().Len(history, 3)
	for i, e := range history {
		s.Equal(notifications[i].Operation, e.Operation)
		s.Equal("U1", e.Identity)
		if i > 0 {
			s.Greater(e.Serial, history[i-1].Serial)
		}
	}
}

func (s *IntegrationTestSuite) TestRejectedRecordsAreNotNotified() {
	u1 := s.token("U1")
	farmID := s.created(s.do(http.MethodPost, "/api/farms", u1, map[string]interface{}{
		"nombre_granja": "Granja La Vega",
		"codigo_rega":   "ES300300000003",
		"titular":       "Luis Gómez",
	}))

	status, res := s.do(http.MethodPost, "/api/hazardous-waste?granja="+farmID, u1, map[string]interface{}{
		"codigo_ler": "abc",
	})
	s.Equal(http.StatusBadRequest, status)
	s.False(res.Success)

	history, err := s.trail.History(context.Background(), farm.ResourceFarms, farmID)
	s.Require().NoError(err)
	s.Len(history, 1)
	s.Equal(core.OperationCreate, history[0].Operation)
}
