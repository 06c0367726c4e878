package queue

import "encoding/json"

// createTestJob builds a job with a generic payload for tests.
func createTestJob(handlerName, source string, estimatedCost float64, opts ...JobOption) (*Job, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"source": source,
		"actor":  "test-system",
	})
	if err != nil {
		return nil, err
	}
	opts = append([]JobOption{WithCostEstimate(estimatedCost)}, opts...)
	return NewJob(handlerName, payload, source, opts...)
}
