package scanner

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrMissingFields              = errors.New("Missing required fields: contract_name and contract_address")
	ErrInvalidAddress             = errors.New("contract_address must be 0x followed by 40 hex characters")
	ErrImplementationNameRequired = errors.New("proxy contracts need a name for the implementation contract")
)

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// ScanRequest is the body of POST /scan.
type ScanRequest struct {
	ContractName       string `json:"contract_name"`
	ContractAddress    string `json:"contract_address"`
	ImplementationName string `json:"implementation_name,omitempty"`
	Chain              string `json:"chain,omitempty"`
}

// Validate checks required fields and the address shape.
func (r ScanRequest) Validate() error {
	if strings.TrimSpace(r.ContractName) == "" || strings.TrimSpace(r.ContractAddress) == "" {
		return ErrMissingFields
	}
	if !addressPattern.MatchString(r.ContractAddress) {
		return ErrInvalidAddress
	}
	if r.Chain != "" {
		if _, ok := Chains[r.Chain]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownNetwork, r.Chain)
		}
	}
	return nil
}

// JobContract is one entry of contracts.json.
type JobContract struct {
	Name               string `json:"name"`
	Address            string `json:"address"`
	ImplementationName string `json:"implementation_name,omitempty"`
}

// JobFile is the contracts.json the analyzer reads.
type JobFile struct {
	ChainName   string        `json:"Chain_Name"`
	ProjectName string        `json:"Project_Name"`
	Contracts   []JobContract `json:"Contracts"`
}

// NewJobFile builds the single-contract job for req.
func NewJobFile(req ScanRequest, project string) JobFile {
	chain := req.Chain
	if chain == "" {
		chain = "mainnet"
	}
	if project == "" {
		project = "scanasha"
	}
	return JobFile{
		ChainName:   chain,
		ProjectName: project,
		Contracts: []JobContract{{
			Name:               req.ContractName,
			Address:            req.ContractAddress,
			ImplementationName: req.ImplementationName,
		}},
	}
}

// IsProxyName reports whether name is one of the known proxy base contracts.
func IsProxyName(name string) bool {
	for _, p := range ProxyBaseContracts {
		if name == p {
			return true
		}
	}
	return false
}
