package speech

// RecognitionResult 单条识别结果
type RecognitionResult struct {
	Transcript string  `json:"transcript"`
	IsFinal    bool    `json:"isFinal"`
	Confidence float64 `json:"confidence,omitempty"`
}

// RecognitionEvent 识别服务推送的增量事件，ResultIndex 之前的结果不再变化。
type RecognitionEvent struct {
	ResultIndex int                 `json:"resultIndex"`
	Results     []RecognitionResult `json:"results"`
}

// Transcript applies the display policy: confirmed text wins once any exists,
// otherwise the interim text fills the gap.
func (e RecognitionEvent) Transcript() string {
	var final, interim string
	start := e.ResultIndex
	if start < 0 {
		start = 0
	}
	for i := start; i < len(e.Results); i++ {
		if e.Results[i].IsFinal {
			final += e.Results[i].Transcript
		} else {
			interim += e.Results[i].Transcript
		}
	}
	if final != "" {
		return final
	}
	return interim
}
