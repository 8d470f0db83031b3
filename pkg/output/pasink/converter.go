package pasink

import (
	"bytes"
	"fmt"

	soxr "github.com/zaf/resample"

	"github.com/drgolem/podstream/pkg/audioframe"
)

// converter resamples produced samples to the output stream rate. Playing
// at a speed factor is resampling from rate*factor, which shifts pitch
// along with tempo.
type converter struct {
	out      int
	channels int
	quality  int

	in  float64 // Effective input rate of res
	res *soxr.Resampler
	buf bytes.Buffer
	raw []byte
}

func newConverter(out, channels, quality int) *converter {
	return &converter{out: out, channels: channels, quality: quality, in: float64(out)}
}

// convert returns samples at the output rate. rate is the source rate of
// samples, 0 when there are none. With flush set the resampler tail is
// drained.
func (c *converter) convert(samples []int16, rate int, speed float64, flush bool) ([]int16, error) {
	if rate > 0 {
		if in := float64(rate) * speed; in != c.in {
			if err := c.reset(in); err != nil {
				return nil, err
			}
		}
	}

	if c.res == nil {
		if tail := c.drain(); len(tail) > 0 {
			return append(tail, samples...), nil
		}
		return samples, nil
	}

	if len(samples) > 0 {
		c.raw = audioframe.EncodeSamples(c.raw[:0], samples)
		if _, err := c.res.Write(c.raw); err != nil {
			return nil, fmt.Errorf("resample: %w", err)
		}
	}
	if flush {
		if err := c.close(); err != nil {
			return nil, err
		}
	}
	return c.drain(), nil
}

// reset closes the current resampler, keeping its tail in buf, and starts
// one for the new input rate.
func (c *converter) reset(in float64) error {
	if err := c.close(); err != nil {
		return err
	}
	c.in = in
	if in == float64(c.out) {
		return nil
	}

	res, err := soxr.New(&c.buf, in, float64(c.out), c.channels, soxr.I16, c.quality)
	if err != nil {
		return fmt.Errorf("failed to create resampler: %w", err)
	}
	c.res = res
	return nil
}

func (c *converter) close() error {
	if c.res == nil {
		return nil
	}
	err := c.res.Close()
	c.res = nil
	if err != nil {
		return fmt.Errorf("failed to close resampler: %w", err)
	}
	return nil
}

// drain returns the buffered output, whole frames only.
func (c *converter) drain() []int16 {
	frameBytes := c.channels * audioframe.BytesPerSample
	n := c.buf.Len() / frameBytes * frameBytes
	if n == 0 {
		return nil
	}
	af := audioframe.FromBytes(audioframe.FrameFormat{}, c.buf.Next(n))
	return af.Samples
}
