package vision

import (
	"context"
	"errors"
	"log"
)

var _ Detector = (*DetectorChain)(nil)

// DetectorChain tries detectors in priority order, falling back past any
// that report ModelUnavailableError. Other errors stop the chain.
type DetectorChain struct {
	detectors []Detector
}

func NewDetectorChain(detectors ...Detector) *DetectorChain {
	return &DetectorChain{detectors: detectors}
}

func (c *DetectorChain) Name() string { return "chain" }

func (c *DetectorChain) Detect(ctx context.Context, frame *Frame) ([]Detection, error) {
	var lastErr error
	for _, d := range c.detectors {
		dets, err := d.Detect(ctx, frame)
		if err != nil {
			var unavailable *ModelUnavailableError
			if errors.As(err, &unavailable) {
				log.Printf("detector %s unavailable, trying next: %v", d.Name(), err)
				lastErr = err
				continue
			}
			return nil, err
		}
		return dets, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no detectors configured")
	}
	return nil, lastErr
}
