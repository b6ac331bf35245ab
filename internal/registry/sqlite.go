package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/brewlink/internal/transport"
)

// SQLiteRegistry implements Store on the devices table.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLiteRegistry wraps an open database whose schema has been migrated.
func NewSQLiteRegistry(db *sql.DB) *SQLiteRegistry {
	return &SQLiteRegistry{db: db}
}

const deviceColumns = `
	id, name, active, transport, port, baud_rate, host, tcp_port, socket_path,
	firmware_version, settings, settings_version, leftover_settings,
	revision, created_at, updated_at`

// ListActiveDeviceIDs returns active device IDs ordered by ID.
func (r *SQLiteRegistry) ListActiveDeviceIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM devices WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying active devices: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning device id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return ids, nil
}

// ListDevices returns every device, active or not, ordered by ID.
func (r *SQLiteRegistry) ListDevices(ctx context.Context) ([]*DeviceConfig, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []*DeviceConfig
	for rows.Next() {
		cfg, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// LoadDeviceConfig returns one device. It does not validate the record.
func (r *SQLiteRegistry) LoadDeviceConfig(ctx context.Context, id string) (*DeviceConfig, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	cfg, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("loading device %s: %w", id, err)
	}
	return cfg, nil
}

// Upsert inserts a device or replaces its configuration. Replacing bumps
// the revision so a running worker is restarted.
func (r *SQLiteRegistry) Upsert(ctx context.Context, cfg *DeviceConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	settings, err := marshalMap(cfg.Settings)
	if err != nil {
		return fmt.Errorf("marshalling settings: %w", err)
	}
	leftovers, err := marshalMap(cfg.Leftovers)
	if err != nil {
		return fmt.Errorf("marshalling leftovers: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			active = excluded.active,
			transport = excluded.transport,
			port = excluded.port,
			baud_rate = excluded.baud_rate,
			host = excluded.host,
			tcp_port = excluded.tcp_port,
			socket_path = excluded.socket_path,
			firmware_version = excluded.firmware_version,
			settings = excluded.settings,
			settings_version = excluded.settings_version,
			leftover_settings = excluded.leftover_settings,
			revision = devices.revision + 1,
			updated_at = excluded.updated_at`,
		cfg.ID, cfg.Name, boolToInt(cfg.Active), string(cfg.Transport),
		cfg.Port, cfg.BaudRate, cfg.Host, cfg.TCPPort, cfg.SocketPath,
		cfg.FirmwareVersion, settings, cfg.SettingsVersion, leftovers,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting device %s: %w", cfg.ID, err)
	}
	return nil
}

// SetActive toggles a device without bumping its revision.
func (r *SQLiteRegistry) SetActive(ctx context.Context, id string, active bool) error {
	return r.update(ctx, id, `active = ?`, boolToInt(active))
}

// Delete removes a device. A running worker is stopped on the next cycle.
func (r *SQLiteRegistry) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// RecordFirmware stores the version a worker detected.
func (r *SQLiteRegistry) RecordFirmware(ctx context.Context, id, version string) error {
	return r.update(ctx, id, `firmware_version = ?`, version)
}

// RecordSettings stores the settings now on the controller and the version
// they belong to.
func (r *SQLiteRegistry) RecordSettings(ctx context.Context, id string, settings map[string]any, version string) error {
	data, err := marshalMap(settings)
	if err != nil {
		return fmt.Errorf("marshalling settings: %w", err)
	}
	return r.update(ctx, id, `settings = ?, settings_version = ?`, data, version)
}

// RecordLeftovers stores settings a migration could not restore.
func (r *SQLiteRegistry) RecordLeftovers(ctx context.Context, id string, leftovers map[string]any) error {
	data, err := marshalMap(leftovers)
	if err != nil {
		return fmt.Errorf("marshalling leftovers: %w", err)
	}
	return r.update(ctx, id, `leftover_settings = ?`, data)
}

func (r *SQLiteRegistry) update(ctx context.Context, id, set string, args ...any) error {
	args = append(args, time.Now().UTC().Format(time.RFC3339), id)
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET `+set+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("updating device %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update of %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*DeviceConfig, error) {
	var c DeviceConfig
	var active int
	var kind, settings, leftovers, createdAt, updatedAt string

	err := row.Scan(
		&c.ID, &c.Name, &active, &kind, &c.Port, &c.BaudRate, &c.Host, &c.TCPPort, &c.SocketPath,
		&c.FirmwareVersion, &settings, &c.SettingsVersion, &leftovers,
		&c.Revision, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Active = active != 0
	c.Transport = transport.Kind(kind)
	if c.Settings, err = unmarshalMap(settings); err != nil {
		return nil, fmt.Errorf("%w: %s: settings: %w", ErrInvalidConfig, c.ID, err)
	}
	if c.Leftovers, err = unmarshalMap(leftovers); err != nil {
		return nil, fmt.Errorf("%w: %s: leftover_settings: %w", ErrInvalidConfig, c.ID, err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // written by us
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // written by us
	return &c, nil
}

func marshalMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMap(s string) (map[string]any, error) {
	m := map[string]any{}
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
