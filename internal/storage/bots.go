package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateBot inserts a bot row after validating its RAG configuration.
func (s *Store) CreateBot(b Bot) error {
	if err := b.RAGConfig.Validate(); err != nil {
		return fmt.Errorf("invalid rag config: %w", err)
	}
	cfg, err := b.RAGConfig.marshal()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}
	_, err = s.db.Exec(`
		INSERT INTO bots (id, tenant_id, name, description, rag_config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.TenantID, b.Name, b.Description, cfg,
		b.CreatedAt.Format(time.RFC3339), b.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

// GetBot returns the bot with the given id, or ErrNotFound.
func (s *Store) GetBot(id string) (Bot, error) {
	row := s.db.QueryRow(`
		SELECT id, tenant_id, name, description, rag_config, created_at, updated_at
		FROM bots WHERE id = ?`, id)
	return scanBot(row)
}

// ListBotsByTenant returns the tenant's bots, newest first.
func (s *Store) ListBotsByTenant(tenantID string) ([]Bot, error) {
	rows, err := s.db.Query(`
		SELECT id, tenant_id, name, description, rag_config, created_at, updated_at
		FROM bots WHERE tenant_id = ? ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// DeleteBot removes the bot; its documents and chunk rows cascade.
func (s *Store) DeleteBot(id string) error {
	res, err := s.db.Exec(`DELETE FROM bots WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanBot(row rowScanner) (Bot, error) {
	var b Bot
	var cfg, createdAt, updatedAt string
	err := row.Scan(&b.ID, &b.TenantID, &b.Name, &b.Description, &cfg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Bot{}, ErrNotFound
	}
	if err != nil {
		return Bot{}, err
	}
	if err := json.Unmarshal([]byte(cfg), &b.RAGConfig); err != nil {
		return Bot{}, fmt.Errorf("parsing rag config for bot %s: %w", b.ID, err)
	}
	if b.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Bot{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if b.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Bot{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return b, nil
}

// --- Tenant settings ---

// SetTenantSettings creates or replaces a tenant's generation credentials.
func (s *Store) SetTenantSettings(ts TenantSettings) error {
	_, err := s.db.Exec(`
		INSERT INTO tenant_settings (tenant_id, generation_api_key, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET generation_api_key = excluded.generation_api_key, updated_at = excluded.updated_at`,
		ts.TenantID, ts.GenerationAPIKey, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetTenantSettings returns the tenant's settings, or ErrNotFound when the
// tenant has never configured credentials.
func (s *Store) GetTenantSettings(tenantID string) (TenantSettings, error) {
	var ts TenantSettings
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT tenant_id, generation_api_key, updated_at
		FROM tenant_settings WHERE tenant_id = ?`, tenantID,
	).Scan(&ts.TenantID, &ts.GenerationAPIKey, &updatedAt)
	if err == sql.ErrNoRows {
		return TenantSettings{}, ErrNotFound
	}
	if err != nil {
		return TenantSettings{}, err
	}
	if ts.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return TenantSettings{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return ts, nil
}
