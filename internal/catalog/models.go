package catalog

import "time"

type State string

const (
	StateWaiting    State = "WAITING"
	StateProcessed  State = "PROCESSED"
	StateIncomplete State = "INCOMPLETE"
	StateInvalid    State = "INVALID"
	StateRunning    State = "RUNNING"
)

func (s State) Valid() bool {
	switch s {
	case StateWaiting, StateProcessed, StateIncomplete, StateInvalid, StateRunning:
		return true
	}
	return false
}

// ParseStates converts configured state names, rejecting unknown ones.
func ParseStates(names []string) ([]State, error) {
	states := make([]State, 0, len(names))
	for _, n := range names {
		s := State(n)
		if !s.Valid() {
			return nil, &UnknownStateError{Name: n}
		}
		states = append(states, s)
	}
	return states, nil
}

type UnknownStateError struct {
	Name string
}

func (e *UnknownStateError) Error() string {
	return "unknown dataset state " + e.Name
}

type Dataset struct {
	ID             int64       `gorm:"primaryKey;column:id"`
	Alternate      string      `gorm:"column:alternate;uniqueIndex;size:255;not null"`
	Title          string      `gorm:"column:title;size:255"`
	State          State       `gorm:"column:state;size:16;not null;default:PROCESSED"`
	SRID           string      `gorm:"column:srid;size:30;not null;default:EPSG:4326"`
	BBoxPolygon    string      `gorm:"column:bbox_polygon"`
	LLBBoxPolygon  string      `gorm:"column:ll_bbox_polygon"`
	DefaultStyleID *int64      `gorm:"column:default_style_id"`
	Attributes     []Attribute `gorm:"foreignKey:DatasetID"`
	CreatedAt      time.Time   `gorm:"column:created_at"`
	UpdatedAt      time.Time   `gorm:"column:updated_at"`
}

func (Dataset) TableName() string { return "datasets" }

type Attribute struct {
	ID            int64  `gorm:"primaryKey;column:id"`
	DatasetID     int64  `gorm:"column:dataset_id;not null;index"`
	Attribute     string `gorm:"column:attribute;size:255;not null"`
	AttributeType string `gorm:"column:attribute_type;size:50;not null"`
	DisplayOrder  int    `gorm:"column:display_order;not null"`
}

func (Attribute) TableName() string { return "attributes" }

type Style struct {
	ID        int64  `gorm:"primaryKey;column:id"`
	Name      string `gorm:"column:name;size:255;not null"`
	Workspace string `gorm:"column:workspace;size:255"`
	SLDURL    string `gorm:"column:sld_url"`
}

func (Style) TableName() string { return "styles" }

// DatasetStyle is the many-to-many link between styles and the datasets
// rendered with them.
type DatasetStyle struct {
	StyleID   int64 `gorm:"primaryKey;column:style_id"`
	DatasetID int64 `gorm:"primaryKey;column:dataset_id"`
}

func (DatasetStyle) TableName() string { return "dataset_styles" }

// SpatialMetadata is the set of fields copied from a source dataset onto a
// join target.
type SpatialMetadata struct {
	SRID           string
	BBoxPolygon    string
	LLBBoxPolygon  string
	DefaultStyleID *int64
}

func (d *Dataset) SpatialMetadata() SpatialMetadata {
	return SpatialMetadata{
		SRID:           d.SRID,
		BBoxPolygon:    d.BBoxPolygon,
		LLBBoxPolygon:  d.LLBBoxPolygon,
		DefaultStyleID: d.DefaultStyleID,
	}
}
