package domain

type Layer struct {
	Name     string `json:"name" yaml:"name"`
	Database string `json:"database" yaml:"database"`
}

type TableSummary struct {
	Database  string `json:"database"`
	Name      string `json:"name"`
	Layer     string `json:"layer,omitempty"`
	TableType string `json:"table_type,omitempty"`
}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TableSchema is the catalog view of one table, read fresh on every call.
type TableSchema struct {
	Database   string            `json:"database"`
	Table      string            `json:"table"`
	Columns    []Column          `json:"columns"`
	Partitions []Column          `json:"partitions"`
	TableType  string            `json:"table_type,omitempty"`
	Parameters map[string]string `json:"parameters"`
}

type JobRun struct {
	JobName          string  `json:"job_name"`
	JobType          string  `json:"job_type,omitempty"`
	Status           string  `json:"status"`
	StartTime        *string `json:"start_time,omitempty" format:"date-time"`
	EndTime          *string `json:"end_time,omitempty" format:"date-time"`
	RecordsProcessed *int64  `json:"records_processed,omitempty"`
	ErrorMessage     *string `json:"error_message,omitempty"`
}

type DatasetStatus struct {
	Dataset          string  `json:"dataset"`
	LastSuccessTime  *string `json:"last_success_time,omitempty" format:"date-time"`
	LastRecordCount  *int64  `json:"last_record_count,omitempty"`
	FreshnessMinutes *int64  `json:"freshness_minutes,omitempty"`
	Health           *string `json:"health,omitempty"`
}

type FlowSource struct {
	Type      string `json:"type" yaml:"type"`
	Producer  string `json:"producer" yaml:"producer"`
	Transport string `json:"transport" yaml:"transport"`
}

type FlowIngestion struct {
	Job            string `json:"job" yaml:"job"`
	Mode           string `json:"mode" yaml:"mode"`
	SchemaEnforced bool   `json:"schema_enforced" yaml:"schema_enforced"`
}

type FlowLayer struct {
	Layer           string   `json:"layer" yaml:"layer"`
	Table           string   `json:"table" yaml:"table"`
	Characteristics []string `json:"characteristics" yaml:"characteristics"`
}

type ReplayStrategy struct {
	SourceOfTruth    string `json:"source_of_truth" yaml:"source_of_truth"`
	ReplayPath       string `json:"replay_path" yaml:"replay_path"`
	MaxLateDataHours int    `json:"max_late_data_hours" yaml:"max_late_data_hours"`
}

// DataFlow describes how one event type moves through the layers.
type DataFlow struct {
	Source         FlowSource     `json:"source" yaml:"source"`
	Ingestion      FlowIngestion  `json:"ingestion" yaml:"ingestion"`
	Layers         []FlowLayer    `json:"layers" yaml:"layers"`
	SLAs           map[string]any `json:"slas" yaml:"slas"`
	ReplayStrategy ReplayStrategy `json:"replay_strategy" yaml:"replay_strategy"`
	// Datasets lists extra dataset names that belong to the flow besides its layer tables.
	Datasets []string `json:"datasets,omitempty" yaml:"datasets"`
}

type ReplayStep struct {
	Layer      string `json:"layer"`
	Job        string `json:"job"`
	Replayable bool   `json:"replayable"`
}

type ReplayWindow struct {
	StartDate string `json:"start_date" format:"date"`
	EndDate   string `json:"end_date" format:"date"`
	Days      int    `json:"days"`
}

// ReplayPlan is advisory only. Nothing in this module executes it.
type ReplayPlan struct {
	Dataset           string       `json:"dataset"`
	Flow              string       `json:"flow"`
	Window            ReplayWindow `json:"window"`
	ReplayPath        []ReplayStep `json:"replay_path"`
	ImpactedLayers    []string     `json:"impacted_layers"`
	SafetyChecks      []string     `json:"safety_checks"`
	MaxLateDataHours  int          `json:"max_late_data_hours,omitempty"`
	RequiresApproval  bool         `json:"requires_approval"`
	ExecutionDisabled bool         `json:"execution_disabled"`
}
