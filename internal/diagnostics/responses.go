package diagnostics

// StagesOutput wraps the stage snapshot list (huma response envelope).
type StagesOutput struct {
	Body StagesResponse
}

// StagesResponse lists every stage's current window state.
type StagesResponse struct {
	Stages []StageStatus `json:"stages" doc:"Per-stage window state, in chain order"`
}

// StageStatus mirrors ledger.StageSnapshot for the wire format.
type StageStatus struct {
	Index      int    `json:"index"`
	Name       string `json:"name" doc:"Bound plugin name"`
	Kind       string `json:"kind" doc:"input, processor, or output"`
	FirstIndex int    `json:"first_index"`
	Count      int    `json:"count"`
	InputEnd   bool   `json:"input_end"`
	Aborted    bool   `json:"aborted"`
	JointDone  bool   `json:"joint_done"`
}

// BitrateOutput wraps BitrateResponse.
type BitrateOutput struct {
	Body BitrateResponse
}

// BitrateResponse is the current declared bitrate (§4.4).
type BitrateResponse struct {
	BitsPerSecond uint64 `json:"bits_per_second"`
	Source        string `json:"source" doc:"override, plugin, pcr, dts, or none"`
}

// BufferOutput wraps BufferResponse.
type BufferOutput struct {
	Body BufferResponse
}

// BufferResponse is the resident buffer's allocation status (§4.1).
type BufferResponse struct {
	SlotCount int  `json:"slot_count"`
	Locked    bool `json:"locked"`
}

// HealthOutput wraps HealthResponse.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse reports process and host resource usage, for
// operators watching a long-running tsp process for memory pressure
// (§12.3 supplement, grounded on the teacher's health handler).
type HealthResponse struct {
	Status            string  `json:"status"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
	ProcessRSSMB       float64 `json:"process_rss_mb"`
	SystemLoad1Min     float64 `json:"system_load_1min"`
	SystemUsedMemoryMB float64 `json:"system_used_memory_mb"`
	Dropped            uint64  `json:"dropped_reports" doc:"plugin report messages discarded by the async sink"`
}

func buildStagesResponse(pipeline Pipeline) StagesResponse {
	snaps := pipeline.Ledger().Snapshot()
	out := make([]StageStatus, len(snaps))
	for i, s := range snaps {
		out[i] = StageStatus{
			Index:      s.Index,
			Name:       s.Name,
			Kind:       s.Kind.String(),
			FirstIndex: s.FirstIndex,
			Count:      s.Count,
			InputEnd:   s.InputEnd,
			Aborted:    s.Aborted,
			JointDone:  s.JointDone,
		}
	}
	return StagesResponse{Stages: out}
}
