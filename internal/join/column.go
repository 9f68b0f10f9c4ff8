package join

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// GeometryColumn is the join column name that requests a geometry copy.
const GeometryColumn = "geometry"

// rowKeyAlias names the correlated target row id inside the UPDATE subquery.
const rowKeyAlias = "__georef_row_key"

var ErrInvalidRequest = errors.New("invalid join request")

type DataType string

const (
	Varchar  DataType = "VARCHAR"
	Geometry DataType = "geometry"
)

type Column struct {
	Name string
	Type DataType
}

// Plan describes one column join between two physical tables in the same
// schema. Identifiers are quoted at render time; max=63 is the Postgres
// identifier limit.
type Plan struct {
	Schema      string   `validate:"required,max=63"`
	TargetTable string   `validate:"required,max=63"`
	SourceTable string   `validate:"required,max=63"`
	TargetPivot string   `validate:"required,max=63"`
	SourcePivot string   `validate:"required,max=63"`
	Columns     []string `validate:"required,min=1,unique,dive,required,max=63"`
}

var validate = validator.New()

func (p Plan) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
				return fe.Namespace() + " failed " + fe.Tag()
			})
			return fmt.Errorf("%w: %v", ErrInvalidRequest, fields)
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if lo.Contains(p.Columns, rowKeyAlias) {
		return fmt.Errorf("%w: column name %q is reserved", ErrInvalidRequest, rowKeyAlias)
	}
	return nil
}

// TypedColumns returns the columns to add to the target, in request order.
func (p Plan) TypedColumns() []Column {
	return lo.Map(p.Columns, func(name string, _ int) Column {
		if name == GeometryColumn {
			return Column{Name: name, Type: Geometry}
		}
		return Column{Name: name, Type: Varchar}
	})
}

func (p Plan) HasGeometry() bool {
	return lo.Contains(p.Columns, GeometryColumn)
}
