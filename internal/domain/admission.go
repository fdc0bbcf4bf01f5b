package domain

// AdmissionInput is the document handed to the admission policy before a run
// is accepted. Field names are the vocabulary the policy sees.
type AdmissionInput struct {
	Submitter      string   `json:"submitter"`
	ContractRef    string   `json:"contract_ref"`
	ContractSHA256 string   `json:"contract_sha256"`
	SizeBytes      int64    `json:"size_bytes"`
	Stages         []string `json:"stages"`
}

// AdmissionDecision is the policy verdict. Reasons are sorted so identical
// inputs yield identical decisions.
type AdmissionDecision struct {
	Allow      bool
	Reasons    []string
	PolicyHash string
}
