package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableName(t *testing.T) {
	tests := []struct {
		name      string
		alternate string
		want      string
		wantErr   bool
	}{
		{"valid", "geonode:municipios", "municipios", false},
		{"valid with digits", "geonode:censo_2020", "censo_2020", false},
		{"other namespace", "other:municipios", "", true},
		{"no separator", "municipios", "", true},
		{"empty table", "geonode:", "", true},
		{"nested separator", "geonode:a:b", "", true},
		{"empty", "", "", true},
		{"namespace case differs", "GeoNode:municipios", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := TableName(tc.alternate, "geonode")
			if tc.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidAlternate))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseStates(t *testing.T) {
	states, err := ParseStates([]string{"PROCESSED", "INCOMPLETE"})
	assert.NoError(t, err)
	assert.Equal(t, []State{StateProcessed, StateIncomplete}, states)

	_, err = ParseStates([]string{"PROCESSED", "done"})
	var unknown *UnknownStateError
	assert.True(t, errors.As(err, &unknown))
	assert.Equal(t, "done", unknown.Name)
}
