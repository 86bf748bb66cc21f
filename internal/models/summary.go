package models

// DailySummary aggregates one calendar day of sessions and module executions
type DailySummary struct {
	Date     string            `json:"date"` // "2006-01-02"
	Sessions DailySessionStats `json:"sessions"`
	Modules  DailyModuleStats  `json:"modules"`
}

type DailySessionStats struct {
	Total       int     `json:"total"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"` // partial_success and error both count as failed days
	AvgDuration float64 `json:"avg_duration"`
}

type DailyModuleStats struct {
	TotalExecutions      int                 `json:"total_executions"`
	SuccessfulExecutions int                 `json:"successful_executions"`
	ProblematicModules   []ModuleFailureRank `json:"problematic_modules"`
}

// ModuleFailureRank ranks a module by failure count then average duration
type ModuleFailureRank struct {
	Name        string  `json:"name"`
	Executions  int     `json:"executions"`
	Failures    int     `json:"failures"`
	AvgDuration float64 `json:"avg_duration"`
}
