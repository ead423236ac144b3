package devorigin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

var ErrTileNotFound = errors.New("tile not found")

// TileStore returns encoded tiles by XYZ coordinates.
type TileStore interface {
	Tile(ctx context.Context, z, x, y int) ([]byte, error)
}

// MetadataStore is implemented by tile stores that describe their tileset.
type MetadataStore interface {
	Metadata(ctx context.Context) (map[string]string, error)
}

// MBTiles reads tiles from an MBTiles (SQLite) tileset. Rows are stored in
// TMS order, so y is flipped on lookup.
type MBTiles struct {
	db *sql.DB
}

// OpenMBTiles opens the tileset at path read-only.
func OpenMBTiles(path string) (*MBTiles, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open mbtiles: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open mbtiles: %w", err)
	}
	return NewMBTiles(db), nil
}

// NewMBTiles wraps an open database.
func NewMBTiles(db *sql.DB) *MBTiles {
	return &MBTiles{db: db}
}

// Tile implements TileStore.
func (m *MBTiles) Tile(ctx context.Context, z, x, y int) ([]byte, error) {
	if z < 0 || z > 30 || x < 0 || y < 0 || x >= 1<<z || y >= 1<<z {
		return nil, ErrTileNotFound
	}
	tmsY := (1 << z) - 1 - y

	var data []byte
	err := m.db.QueryRowContext(ctx,
		`SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
		z, x, tmsY,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query tile %d/%d/%d: %w", z, x, y, err)
	}
	return data, nil
}

// Metadata returns the name/value pairs of the metadata table.
func (m *MBTiles) Metadata(ctx context.Context) (map[string]string, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT name, value FROM metadata`)
	if err != nil {
		return nil, fmt.Errorf("query metadata: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		meta[name] = value
	}
	return meta, rows.Err()
}

// Close closes the database.
func (m *MBTiles) Close() error {
	return m.db.Close()
}
