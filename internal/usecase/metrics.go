package usecase

import "context"

// DiagnosisSummary aggregates an owner's case records per diagnosis label.
type DiagnosisSummary struct {
	TotalCases  int64            `json:"total_cases"`
	ByDiagnosis map[string]int64 `json:"by_diagnosis"`
}

// GetDiagnosisSummary builds the per-label breakdown from persisted records.
func (uc *AnalysisUseCase) GetDiagnosisSummary(ctx context.Context, ownerID string) (*DiagnosisSummary, error) {
	counts, err := uc.repo.AggregateDiagnoses(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	summary := &DiagnosisSummary{ByDiagnosis: make(map[string]int64, len(counts))}
	for _, row := range counts {
		summary.ByDiagnosis[row.Diagnosis] = row.Count
		summary.TotalCases += row.Count
	}
	return summary, nil
}
