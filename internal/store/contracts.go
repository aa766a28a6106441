package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"scanasha/internal/contracts"
)

const contractColumns = `id, contract_name, description, address, chain, status,
	permission_data, audit_markdown, score, metrics, author, created_at`

const auditColumns = `id, contract_id, permission_data, audit_markdown, score, metrics,
	status, author, created_at`

// CreateContract stores a new contract in the pending state.
func (s *Store) CreateContract(ctx context.Context, c contracts.Contract) (contracts.Contract, error) {
	if c.ID == "" {
		c.ID = s.newID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	if c.Chain == "" {
		c.Chain = "mainnet"
	}
	c.Status = contracts.StatusPending

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contracts (`+contractColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ContractName, c.Description, c.Address, c.Chain, string(c.Status),
		c.PermissionData, c.AuditMarkdown, c.Score, string(c.Metrics), c.Author, toMillis(c.CreatedAt))
	if err != nil {
		return contracts.Contract{}, fmt.Errorf("insert contract: %w", err)
	}
	return c, nil
}

// GetContract loads one contract.
func (s *Store) GetContract(ctx context.Context, id string) (contracts.Contract, error) {
	c, err := scanContract(s.db.QueryRowContext(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Contract{}, notFound("contract", id)
	}
	return c, err
}

// ListContracts returns the newest contracts.
func (s *Store) ListContracts(ctx context.Context, limit int) ([]contracts.Contract, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contractColumns+` FROM contracts ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query contracts: %w", err)
	}
	defer rows.Close()

	out := []contracts.Contract{}
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateContract applies the non-nil fields of patch.
func (s *Store) UpdateContract(ctx context.Context, id string, patch contracts.ContractPatch) (contracts.Contract, error) {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if patch.ContractName != nil {
		set("contract_name", *patch.ContractName)
	}
	if patch.Description != nil {
		set("description", *patch.Description)
	}
	if patch.Address != nil {
		set("address", *patch.Address)
	}
	if patch.Chain != nil {
		set("chain", *patch.Chain)
	}
	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	if patch.PermissionData != nil {
		set("permission_data", *patch.PermissionData)
	}
	if patch.AuditMarkdown != nil {
		set("audit_markdown", *patch.AuditMarkdown)
	}
	if patch.Score != nil {
		set("score", *patch.Score)
	}
	if patch.Metrics != nil {
		set("metrics", string(patch.Metrics))
	}
	if err := s.update(ctx, "contracts", id, sets, args); err != nil {
		return contracts.Contract{}, err
	}
	return s.GetContract(ctx, id)
}

func (s *Store) update(ctx context.Context, table, id string, sets []string, args []any) error {
	if len(sets) == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound(strings.TrimSuffix(table, "s"), id)
		}
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET `+strings.Join(sets, ", ")+` WHERE id = ?`, append(args, id)...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(strings.TrimSuffix(table, "s"), id)
	}
	return nil
}

func scanContract(r rowScanner) (contracts.Contract, error) {
	var (
		c       contracts.Contract
		status  string
		metrics string
		created int64
	)
	err := r.Scan(&c.ID, &c.ContractName, &c.Description, &c.Address, &c.Chain, &status,
		&c.PermissionData, &c.AuditMarkdown, &c.Score, &metrics, &c.Author, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("scan contract: %w", err)
	}
	c.Status = contracts.Status(status)
	c.CreatedAt = fromMillis(created)
	if metrics != "" {
		c.Metrics = json.RawMessage(metrics)
	}
	return c, nil
}

// CreateAudit stores an audit. An empty status becomes pending.
func (s *Store) CreateAudit(ctx context.Context, a contracts.Audit) (contracts.Audit, error) {
	if _, err := s.GetContract(ctx, a.ContractID); err != nil {
		return contracts.Audit{}, err
	}
	if a.ID == "" {
		a.ID = s.newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	if a.Status == "" {
		a.Status = contracts.StatusPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audits (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ContractID, a.PermissionData, a.AuditMarkdown, a.Score, string(a.Metrics),
		string(a.Status), a.Author, toMillis(a.CreatedAt))
	if err != nil {
		return contracts.Audit{}, fmt.Errorf("insert audit: %w", err)
	}
	return a, nil
}

// GetAudit loads one audit.
func (s *Store) GetAudit(ctx context.Context, id string) (contracts.Audit, error) {
	a, err := scanAudit(s.db.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audits WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Audit{}, notFound("audit", id)
	}
	return a, err
}

// ListAudits returns the newest audits.
func (s *Store) ListAudits(ctx context.Context, limit int) ([]contracts.Audit, error) {
	return s.queryAudits(ctx,
		`SELECT `+auditColumns+` FROM audits ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		clampLimit(limit))
}

// ListAuditsByContract returns the newest audits of one contract.
func (s *Store) ListAuditsByContract(ctx context.Context, contractID string, limit int) ([]contracts.Audit, error) {
	return s.queryAudits(ctx,
		`SELECT `+auditColumns+` FROM audits WHERE contract_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, contractID, clampLimit(limit))
}

// ListAuditsByAuthor returns the newest audits created by author.
func (s *Store) ListAuditsByAuthor(ctx context.Context, author string, limit int) ([]contracts.Audit, error) {
	return s.queryAudits(ctx,
		`SELECT `+auditColumns+` FROM audits WHERE author = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, author, clampLimit(limit))
}

// LatestAudit returns the newest audit of a contract, or ErrNotFound.
func (s *Store) LatestAudit(ctx context.Context, contractID string) (contracts.Audit, error) {
	list, err := s.ListAuditsByContract(ctx, contractID, 1)
	if err != nil {
		return contracts.Audit{}, err
	}
	if len(list) == 0 {
		return contracts.Audit{}, notFound("audit for contract", contractID)
	}
	return list[0], nil
}

// UpdateAudit applies the non-nil fields of patch.
func (s *Store) UpdateAudit(ctx context.Context, id string, patch contracts.AuditPatch) (contracts.Audit, error) {
	var (
		sets []string
		args []any
	)
	if patch.AuditMarkdown != nil {
		sets = append(sets, "audit_markdown = ?")
		args = append(args, *patch.AuditMarkdown)
	}
	if patch.Score != nil {
		sets = append(sets, "score = ?")
		args = append(args, *patch.Score)
	}
	if patch.Metrics != nil {
		sets = append(sets, "metrics = ?")
		args = append(args, string(patch.Metrics))
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if err := s.update(ctx, "audits", id, sets, args); err != nil {
		return contracts.Audit{}, err
	}
	return s.GetAudit(ctx, id)
}

func (s *Store) queryAudits(ctx context.Context, query string, args ...any) ([]contracts.Audit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audits: %w", err)
	}
	defer rows.Close()

	out := []contracts.Audit{}
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAudit(r rowScanner) (contracts.Audit, error) {
	var (
		a       contracts.Audit
		status  string
		metrics string
		created int64
	)
	err := r.Scan(&a.ID, &a.ContractID, &a.PermissionData, &a.AuditMarkdown, &a.Score, &metrics,
		&status, &a.Author, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("scan audit: %w", err)
	}
	a.Status = contracts.Status(status)
	a.CreatedAt = fromMillis(created)
	if metrics != "" {
		a.Metrics = json.RawMessage(metrics)
	}
	return a, nil
}
