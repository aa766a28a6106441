// Package contracts models smart contracts submitted for review and the
// audits produced for them.
package contracts

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"scanasha/internal/validation"
)

// Status is the review state of a contract or audit.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// ErrInvalidStatus is returned by ParseStatus.
var ErrInvalidStatus = errors.New("invalid status")

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// ParseStatus accepts only the three known states.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusInProgress, StatusCompleted:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Contract is a contract submitted for review.
type Contract struct {
	ID             string          `json:"id"`
	ContractName   string          `json:"contractName"`
	Description    string          `json:"description"`
	Address        string          `json:"address"`
	Chain          string          `json:"chain,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	Status         Status          `json:"status"`
	PermissionData string          `json:"permissionData,omitempty"`
	AuditMarkdown  string          `json:"auditMarkdown,omitempty"`
	Score          int             `json:"score,omitempty"`
	Metrics        json.RawMessage `json:"metrics,omitempty"`
	Author         string          `json:"author"`
}

// Audit is one generated audit of a contract.
type Audit struct {
	ID             string          `json:"id"`
	ContractID     string          `json:"contractID"`
	PermissionData string          `json:"permissionData,omitempty"`
	AuditMarkdown  string          `json:"auditMarkdown,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	Score          int             `json:"score"`
	Metrics        json.RawMessage `json:"metrics,omitempty"`
	Status         Status          `json:"status"`
	Author         string          `json:"author"`
}

// Draft is the submission form of a contract.
type Draft struct {
	ContractName string `json:"contractName"`
	Description  string `json:"description"`
	Address      string `json:"address"`
	// Chain defaults to mainnet when empty.
	Chain string `json:"chain,omitempty"`
}

// ContractPatch updates a contract; nil fields are left alone.
type ContractPatch struct {
	ContractName   *string         `json:"contractName,omitempty"`
	Description    *string         `json:"description,omitempty"`
	Address        *string         `json:"address,omitempty"`
	Chain          *string         `json:"chain,omitempty"`
	Status         *Status         `json:"status,omitempty"`
	PermissionData *string         `json:"permissionData,omitempty"`
	AuditMarkdown  *string         `json:"auditMarkdown,omitempty"`
	Score          *int            `json:"score,omitempty"`
	Metrics        json.RawMessage `json:"metrics,omitempty"`
}

// AuditPatch updates an audit; nil fields are left alone.
type AuditPatch struct {
	AuditMarkdown *string         `json:"auditMarkdown,omitempty"`
	Score         *int            `json:"score,omitempty"`
	Metrics       json.RawMessage `json:"metrics,omitempty"`
	Status        *Status         `json:"status,omitempty"`
}

// ValidateDraft checks the contract form.
func ValidateDraft(d Draft) error {
	var errs validation.Errors
	errs.MinLength("contractName", strings.TrimSpace(d.ContractName), 3, "Contract name must be at least 3 characters.")
	errs.MinLength("description", strings.TrimSpace(d.Description), 5, "Description must be at least 5 characters.")
	if !IsAddress(d.Address) {
		errs.Add("address", "Please enter a valid Ethereum address (0x...)")
	}
	return errs.Err()
}

// Validate checks the fields a patch sets.
func (p ContractPatch) Validate() error {
	var errs validation.Errors
	if p.ContractName != nil {
		errs.MinLength("contractName", strings.TrimSpace(*p.ContractName), 3, "Contract name must be at least 3 characters.")
	}
	if p.Description != nil {
		errs.MinLength("description", strings.TrimSpace(*p.Description), 5, "Description must be at least 5 characters.")
	}
	if p.Address != nil && !IsAddress(*p.Address) {
		errs.Add("address", "Please enter a valid Ethereum address (0x...)")
	}
	if p.Status != nil {
		if _, err := ParseStatus(string(*p.Status)); err != nil {
			errs.Add("status", err.Error())
		}
	}
	return errs.Err()
}

// Validate checks the fields a patch sets.
func (p AuditPatch) Validate() error {
	var errs validation.Errors
	if p.Status != nil {
		if _, err := ParseStatus(string(*p.Status)); err != nil {
			errs.Add("status", err.Error())
		}
	}
	if p.Score != nil && (*p.Score < 0 || *p.Score > 10) {
		errs.Add("score", "Score must be between 0 and 10.")
	}
	return errs.Err()
}

// IsAddress reports whether s looks like a hex Ethereum address.
func IsAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// ChecksumAddress returns the EIP-55 mixed-case form of addr.
func ChecksumAddress(addr string) (string, error) {
	if !IsAddress(addr) {
		return "", fmt.Errorf("invalid address %q", addr)
	}
	lower := strings.ToLower(addr[2:])

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := hex.EncodeToString(h.Sum(nil))

	out := []byte(lower)
	for i, c := range out {
		if c >= 'a' && c <= 'f' && digest[i] >= '8' {
			out[i] = c - 'a' + 'A'
		}
	}
	return "0x" + string(out), nil
}

// State summarizes which audit steps have run.
type State struct {
	HasPermissionData bool `json:"hasPermissionData"`
	HasAuditMarkdown  bool `json:"hasAuditMarkdown"`
}

// FullyAudited is true once both steps produced output.
func (s State) FullyAudited() bool {
	return s.HasPermissionData && s.HasAuditMarkdown
}

// CanGenerateReport reports whether the report step may run. It needs scan
// output; an audited contract may get a fresh report. The scan itself may
// always be rerun and replaces the stored permission data.
func (s State) CanGenerateReport() bool { return s.HasPermissionData }

// AuditState derives the step state from a contract and its latest audit,
// which may be nil.
func AuditState(c Contract, latest *Audit) State {
	st := State{
		HasPermissionData: c.PermissionData != "",
		HasAuditMarkdown:  c.AuditMarkdown != "",
	}
	if latest != nil {
		st.HasPermissionData = st.HasPermissionData || latest.PermissionData != ""
		st.HasAuditMarkdown = st.HasAuditMarkdown || latest.AuditMarkdown != ""
	}
	return st
}

// Score colors used by the metrics chart.
const (
	ColorGreen  = "#4ade80"
	ColorYellow = "#facc15"
	ColorRed    = "#f87171"
)

// ScoreColor buckets a [0,1] metric.
func ScoreColor(v float64) string {
	switch {
	case v >= 0.8:
		return ColorGreen
	case v >= 0.5:
		return ColorYellow
	default:
		return ColorRed
	}
}
