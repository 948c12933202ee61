package mirror

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/asset-graph/internal/graph"
)

// NodeColumns are the columns shared by the three node tables.
type NodeColumns struct {
	Path         string    `gorm:"column:path;type:varchar(768);primaryKey"`
	GUID         string    `gorm:"column:guid;type:varchar(32);index"`
	AssetType    string    `gorm:"column:asset_type;type:varchar(64)"`
	ContentHash  string    `gorm:"column:content_hash;type:varchar(32)"`
	Dependencies JSONField `gorm:"column:dependencies;type:json"`
	Dependents   JSONField `gorm:"column:dependents;type:json"`
	RefCount     int       `gorm:"column:ref_count"`
	UpdateTime   time.Time `gorm:"column:update_time;autoUpdateTime"`
}

// AssetNode represents the asset_nodes table.
type AssetNode struct {
	NodeColumns `gorm:"embedded"`
}

// TableName returns the table name for AssetNode.
func (AssetNode) TableName() string {
	return "asset_nodes"
}

// FolderNode represents the folder_nodes table.
type FolderNode struct {
	NodeColumns `gorm:"embedded"`
}

// TableName returns the table name for FolderNode.
func (FolderNode) TableName() string {
	return "folder_nodes"
}

// PackageNode represents the package_nodes table.
type PackageNode struct {
	NodeColumns `gorm:"embedded"`
}

// TableName returns the table name for PackageNode.
func (PackageNode) TableName() string {
	return "package_nodes"
}

// tableFor returns the table holding nodes of kind.
func tableFor(kind graph.NodeKind) string {
	switch kind {
	case graph.KindFolder:
		return FolderNode{}.TableName()
	case graph.KindPackage:
		return PackageNode{}.TableName()
	default:
		return AssetNode{}.TableName()
	}
}

// tables lists every mirror table with its kind, in lookup order.
var tables = []struct {
	name string
	kind graph.NodeKind
}{
	{AssetNode{}.TableName(), graph.KindAsset},
	{PackageNode{}.TableName(), graph.KindPackage},
	{FolderNode{}.TableName(), graph.KindFolder},
}

// columnsOf converts a node into its row.
func columnsOf(n *graph.Node) (NodeColumns, error) {
	deps, err := json.Marshal(n.Dependencies.Paths())
	if err != nil {
		return NodeColumns{}, err
	}
	dependents, err := json.Marshal(n.Dependents.Paths())
	if err != nil {
		return NodeColumns{}, err
	}
	refs := 0
	for _, id := range n.Dependents {
		if !id.IsFolder() {
			refs++
		}
	}
	return NodeColumns{
		Path:         n.Self.Path,
		GUID:         n.Self.GUID,
		AssetType:    n.Self.AssetType,
		ContentHash:  n.Self.ContentHash,
		Dependencies: deps,
		Dependents:   dependents,
		RefCount:     refs,
	}, nil
}

// Record is a mirrored node as read back from the database.
type Record struct {
	Kind         graph.NodeKind
	Path         string
	GUID         string
	AssetType    string
	ContentHash  string
	Dependencies []string
	Dependents   []string
	RefCount     int
}

func (c NodeColumns) toRecord(kind graph.NodeKind) (*Record, error) {
	r := &Record{
		Kind:        kind,
		Path:        c.Path,
		GUID:        c.GUID,
		AssetType:   c.AssetType,
		ContentHash: c.ContentHash,
		RefCount:    c.RefCount,
	}
	if len(c.Dependencies) > 0 {
		if err := json.Unmarshal(c.Dependencies, &r.Dependencies); err != nil {
			return nil, err
		}
	}
	if len(c.Dependents) > 0 {
		if err := json.Unmarshal(c.Dependents, &r.Dependents); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// JSONField is a custom type for JSON columns.
type JSONField []byte

// Value implements driver.Valuer interface.
func (j JSONField) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements sql.Scanner interface.
func (j *JSONField) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
		return nil
	case string:
		*j = []byte(v)
		return nil
	default:
		return errors.New("unsupported type for JSONField")
	}
}
