package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	testCases := []struct {
		name     string
		expr     Expression
		expected string
	}{
		{"empty", Expression{}, ""},
		{"owner", Where("user", Equal, "U1"), `user="U1"`},
		{"owner and farm", Where("user", Equal, "U1").And("granja", Equal, "F1"), `user="U1" && granja="F1"`},
		{"number", Where("nro_animales", GreaterOrEqual, 10), `nro_animales>=10`},
		{"float", Where("peso_vivo", Less, 25.5), `peso_vivo<25.5`},
		{"bool", Where("realizado", NotEqual, true), `realizado!=true`},
		{"null", Where("archivo", Equal, nil), `archivo=null`},
		{"like", Where("nombre_pienso", Like, "lech"), `nombre_pienso~"lech"`},
		{"escaped like", Where("nombre_pienso", Like, EscapeLike("50%_x")), `nombre_pienso~"50\\%\\_x"`},
		{"quote", Where("procedencia", Equal, `Granja "X"`), `procedencia="Granja \"X\""`},
		{"backslash", Where("procedencia", Equal, `a\b`), `procedencia="a\\b"`},
		{"time", Where("created", Greater, time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)), `created>"2024-01-10 08:00:00.000Z"`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := tc.expr.Build()
			require.NoError(t, err)
			assert.Equal(t, tc.expected, s)
		})
	}
}

func TestBuildRejectsInvalidInput(t *testing.T) {
	_, err := Where(`user="x" || 1`, Equal, "U1").Build()
	assert.Error(t, err)

	_, err = Where("user", Operator("=="), "U1").Build()
	assert.Error(t, err)

	_, err = Where("user", Equal, []string{"a"}).Build()
	assert.Error(t, err)
}

func TestAndDoesNotShareConditions(t *testing.T) {
	base := Where("user", Equal, "U1")
	a := base.And("granja", Equal, "F1")
	b := base.And("granja", Equal, "F2")
	assert.Equal(t, `user="U1" && granja="F1"`, a.String())
	assert.Equal(t, `user="U1" && granja="F2"`, b.String())
	assert.Len(t, base.Conditions(), 1)
}

func TestInjectionIsNeutralized(t *testing.T) {
	hostile := `U1" || user!="`
	s, err := Where("user", Equal, hostile).Build()
	require.NoError(t, err)

	node, err := Parse(s)
	require.NoError(t, err)

	// the hostile value must stay one literal, and must not widen the match
	assert.False(t, node.Match(map[string]interface{}{"user": "U2"}))
	assert.False(t, node.Match(map[string]interface{}{"user": "U1"}))
	assert.True(t, node.Match(map[string]interface{}{"user": hostile}))
}

func TestParseAndMatch(t *testing.T) {
	record := map[string]interface{}{
		"user":          "U1",
		"granja":        "F1",
		"nro_animales":  float64(10),
		"fecha_entrada": "2024-01-10",
		"procedencia":   "Granja X",
		"nro_lote":      "L_10%",
		"realizado":     false,
		"expand":        map[string]interface{}{"granja": map[string]interface{}{"nombre_granja": "Norte"}},
	}
	testCases := []struct {
		filter   string
		expected bool
	}{
		{``, true},
		{`user="U1"`, true},
		{`user='U1'`, true},
		{`user="U2"`, false},
		{`user="U1" && granja="F1"`, true},
		{`user="U1" && granja="F2"`, false},
		{`user="U2" || granja="F1"`, true},
		{`(user="U2" || granja="F1") && nro_animales>5`, true},
		{`nro_animales>=10`, true},
		{`nro_animales>10`, false},
		{`fecha_entrada>="2024-01-01" && fecha_entrada<="2024-01-31"`, true},
		{`fecha_entrada<"2024-01-10"`, false},
		{`procedencia~"granja"`, true},
		{`procedencia~"Gr%X"`, true},
		{`procedencia~"Gr\\%X"`, false},
		{`nro_lote~"l\\_10\\%"`, true},
		{`nro_lote~"L\\_1%"`, true},
		{`nro_lote~"L\\_%X"`, false},
		{`procedencia!~"norte"`, true},
		{`observaciones=""`, true},
		{`observaciones=null`, true},
		{`realizado=false`, true},
		{`expand.granja.nombre_granja="Norte"`, true},
	}
	for _, tc := range testCases {
		t.Run(tc.filter, func(t *testing.T) {
			node, err := Parse(tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, node.Match(record))
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, s := range []string{
		`user=`,
		`user="U1`,
		`user="U1" &&`,
		`user="U1" & granja="F1"`,
		`(user="U1"`,
		`user=="U1"`,
		`="U1"`,
		`user="U1" granja="F1"`,
	} {
		t.Run(s, func(t *testing.T) {
			_, err := Parse(s)
			assert.Error(t, err)
		})
	}
}

func TestExpressionMatchAgreesWithParse(t *testing.T) {
	expr := Where("user", Equal, "U1").And("nro_animales", Greater, 5)
	record := map[string]interface{}{"user": "U1", "nro_animales": float64(7)}
	node, err := Parse(expr.String())
	require.NoError(t, err)
	assert.True(t, expr.Match(record))
	assert.Equal(t, expr.Match(record), node.Match(record))
}
