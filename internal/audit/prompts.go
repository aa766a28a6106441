package audit

import (
	"encoding/json"
	"fmt"
	"strings"
)

const reportSystemPrompt = `You are an expert DeFi security auditor analyzing a smart contract.
Based on the permission data provided, generate a comprehensive markdown audit report.

Focus on:
1. Security risks of privileged functions with access controls
2. Potential vulnerabilities based on msg.sender checks and modifiers
3. State variables that can be modified by privileged functions
4. Recommendations for improvements in permission structure

The report should include:
- Title with the contract name
- Overview section with contract details and risk score (1-10, with 10 being highest risk)
- Analysis of each privileged function identified in the permission data
- Assessment of centralization risks
- Clear recommendations section with actionable items

Format the response in Markdown.`

const metricsSystemPrompt = `You are evaluating a smart contract's security and decentralization metrics based on its permission structure.

From the permission data and function analysis, score the following metrics from 0.0 to 1.0 (where 1.0 is best):

1. autonomy: How autonomous is the contract? Less admin/owner intervention required means higher score.
   Consider factors like:
   - Number of privileged functions that require owner/admin access
   - Presence of automated vs manual processes
   - Reliance on centralized decision-making

2. exitwindow: Do users have the ability to exit or withdraw their assets?
   Consider factors like:
   - Presence of withdrawal functions accessible to all users
   - Lack of lock-up periods or freezing capabilities
   - Absence of admin functions that can block withdrawals

3. chain: Cross-chain compatibility and interoperability.
   Consider factors like:
   - Functions for cross-chain operations
   - Bridge compatibility
   - Chain-agnostic design elements

4. upgradeability: How safely can the contract be upgraded if needed?
   Consider factors like:
   - Presence of proxy patterns
   - Timelock mechanisms
   - Multi-sig requirements for upgrades
   - Transparency of upgrade processes

Format your response as a JSON object with these four metrics and their numeric scores.
Example: { "autonomy": 0.75, "exitwindow": 0.9, "chain": 0.5, "upgradeability": 0.6 }`

func orNotProvided(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Not provided"
	}
	return s
}

// buildUserContent is shared by the report and metrics completions.
func buildUserContent(address string, c ContractPermissions, docsURL, sourceURL string, riskScore int) (string, error) {
	permissionJSON, err := json.MarshalIndent(struct {
		ContractName string               `json:"contractName"`
		Functions    []FunctionPermission `json:"functions"`
	}{c.ContractName, c.Functions}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal permission data: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Contract Name: %s\n", c.ContractName)
	fmt.Fprintf(&sb, "Contract Address: %s\n", address)
	fmt.Fprintf(&sb, "Documentation URL: %s\n", orNotProvided(docsURL))
	fmt.Fprintf(&sb, "Source Code URL: %s\n\n", orNotProvided(sourceURL))
	sb.WriteString("Permission Data:\n")
	sb.Write(permissionJSON)
	fmt.Fprintf(&sb, "\n\nGenerated Risk Score: %d/10\n\n", riskScore)
	sb.WriteString("Generate a detailed security audit report for this contract, focusing on permission and access control risks.")
	return sb.String(), nil
}
