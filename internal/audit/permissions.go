// Package audit turns permission-scanner output into an LLM-written security
// report plus a numeric risk score and decentralization metrics.
package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	ErrMissingScannerData = errors.New("Permission scanner data is required")
	ErrInvalidScannerData = errors.New("Invalid scanner data format")
	ErrNoAddresses        = errors.New("No contract addresses found in scanner data")
	ErrNoContracts        = errors.New("No contract names found in scanner data")
)

// FunctionPermission is one function entry written by the analyzer.
// Storage values resolved for variables read inside modifiers are keyed by
// variable name and kept in StorageReads.
type FunctionPermission struct {
	Function                          string         `json:"Function"`
	Modifiers                         []string       `json:"Modifiers"`
	MsgSenderConditions               []string       `json:"msg.sender_conditions"`
	StateVariablesReadInsideModifiers []string       `json:"state_variables_read_inside_modifiers"`
	StateVariablesWritten             []string       `json:"state_variables_written"`
	ImmutablesAndConstants            []string       `json:"immutables_and_constants,omitempty"`
	StorageReads                      map[string]any `json:"-"`
}

var knownFunctionKeys = map[string]bool{
	"Function":                              true,
	"Modifiers":                             true,
	"msg.sender_conditions":                 true,
	"state_variables_read_inside_modifiers": true,
	"state_variables_written":               true,
	"immutables_and_constants":              true,
}

type functionPermissionAlias FunctionPermission

// UnmarshalJSON keeps unknown keys as storage reads.
func (f *FunctionPermission) UnmarshalJSON(data []byte) error {
	var alias functionPermissionAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k, v := range all {
		if knownFunctionKeys[k] {
			continue
		}
		if alias.StorageReads == nil {
			alias.StorageReads = make(map[string]any)
		}
		alias.StorageReads[k] = v
	}
	*f = FunctionPermission(alias)
	return nil
}

// MarshalJSON writes storage reads back as top-level keys.
func (f FunctionPermission) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(functionPermissionAlias(f))
	if err != nil || len(f.StorageReads) == 0 {
		return base, err
	}
	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range f.StorageReads {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// IsPrivileged reports whether the function is gated by msg.sender or a modifier.
func (f FunctionPermission) IsPrivileged() bool {
	return len(f.MsgSenderConditions) > 0 || len(f.Modifiers) > 0
}

// ContractPermissions is the analyzer output for one contract.
type ContractPermissions struct {
	ContractName  string               `json:"Contract_Name"`
	Functions     []FunctionPermission `json:"Functions"`
	StorageValues map[string]any       `json:"storage_values,omitempty"`
}

// NamedContract pairs a contract key with its permissions.
type NamedContract struct {
	Name        string
	Permissions ContractPermissions
}

// AddressEntry lists the contracts scanned at one address, in file order.
type AddressEntry struct {
	Address               string
	Contracts             []NamedContract
	ImplementationAddress string
	ProxyAddress          string
}

// ScannerData is a parsed permissions.json with key order preserved.
type ScannerData struct {
	Addresses []AddressEntry
}

// Target returns the first contract at the first address.
func (d ScannerData) Target() (address string, contract ContractPermissions, err error) {
	if len(d.Addresses) == 0 {
		return "", ContractPermissions{}, ErrNoAddresses
	}
	first := d.Addresses[0]
	if len(first.Contracts) == 0 {
		return "", ContractPermissions{}, ErrNoContracts
	}
	c := first.Contracts[0].Permissions
	if c.ContractName == "" {
		c.ContractName = first.Contracts[0].Name
	}
	return first.Address, c, nil
}

// isFalsy reports whether raw is a JSON value that carries no scanner data:
// empty input, null, false or a numeric zero.
func isFalsy(raw []byte) bool {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")) {
		return true
	}
	if raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9') {
		var n float64
		return json.Unmarshal(raw, &n) == nil && n == 0
	}
	return false
}

// ParseScannerData accepts a JSON object or a JSON string holding one.
func ParseScannerData(raw json.RawMessage) (ScannerData, error) {
	raw = bytes.TrimSpace(raw)
	if isFalsy(raw) {
		return ScannerData{}, ErrMissingScannerData
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ScannerData{}, ErrInvalidScannerData
		}
		if s == "" {
			return ScannerData{}, ErrMissingScannerData
		}
		raw = bytes.TrimSpace([]byte(s))
	}

	top, err := orderedObject(raw)
	if err != nil {
		return ScannerData{}, ErrInvalidScannerData
	}

	var data ScannerData
	for _, kv := range top {
		contracts, err := orderedObject(kv.value)
		if err != nil {
			// Only objects describe addresses.
			continue
		}
		entry := AddressEntry{Address: kv.key}
		for _, c := range contracts {
			switch c.key {
			case "Implementation_Contract_Address":
				_ = json.Unmarshal(c.value, &entry.ImplementationAddress)
				continue
			case "Proxy_Address":
				_ = json.Unmarshal(c.value, &entry.ProxyAddress)
				continue
			}
			if !isObject(c.value) {
				continue
			}
			var perms ContractPermissions
			if err := json.Unmarshal(c.value, &perms); err != nil {
				return ScannerData{}, fmt.Errorf("%w: contract %s: %v", ErrInvalidScannerData, c.key, err)
			}
			entry.Contracts = append(entry.Contracts, NamedContract{Name: c.key, Permissions: perms})
		}
		data.Addresses = append(data.Addresses, entry)
	}
	return data, nil
}

type keyValue struct {
	key   string
	value json.RawMessage
}

// orderedObject decodes one JSON object into its members in document order.
func orderedObject(raw []byte) ([]keyValue, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object")
	}

	var out []keyValue
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected key")
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, keyValue{key: key, value: v})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func isObject(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// PrivilegedFunctions returns functions with a msg.sender condition or a modifier.
func PrivilegedFunctions(c ContractPermissions) []FunctionPermission {
	var out []FunctionPermission
	for _, f := range c.Functions {
		if f.IsPrivileged() {
			out = append(out, f)
		}
	}
	return out
}

// RiskScore maps the privileged function count onto 1..10.
func RiskScore(c ContractPermissions) int {
	score := int(math.Ceil(float64(len(PrivilegedFunctions(c))) * 1.5))
	return min(10, max(1, score))
}
