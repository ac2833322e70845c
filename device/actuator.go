package main

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/hothouse-labs/hothouse/pkg/protocol"
)

// Environment is the shared greenhouse state devices sense and actuate
// on. The store's indicator table satisfies it.
type Environment interface {
	IndicatorValue(sector int, name string) (int, error)
	ChangeIndicator(sector int, name string, delta int) error
}

// Controller turns one command into a duty-cycled sequence of unit
// increments: |load| signed steps spread evenly across the command's
// duration instead of one instantaneous jump.
type Controller struct {
	env       Environment
	sector    int
	indicator string
	tick      time.Duration
	setState  func(active bool)
	log       zerolog.Logger
}

func NewController(env Environment, sector int, indicator string, tick time.Duration, setState func(active bool), log zerolog.Logger) *Controller {
	if tick <= 0 {
		tick = time.Second
	}
	if setState == nil {
		setState = func(bool) {}
	}
	return &Controller{
		env:       env,
		sector:    sector,
		indicator: indicator,
		tick:      tick,
		setState:  setState,
		log:       log,
	}
}

// Run executes cmd over duration ticks, sleeping one tick unit per tick.
// A zero load idles for the whole duration without touching the store.
// Otherwise exactly |load| unit increments are attempted, distributed so
// that tick i has applied i*|load|/duration of them; when |load| exceeds
// the duration every tick mutates more than once. Each increment is a
// single atomic store call and a failed one is logged and skipped, never
// fatal. Run returns early when stop closes.
func (c *Controller) Run(cmd protocol.Command, duration int, stop <-chan struct{}) {
	if duration <= 0 {
		duration = 1
	}

	if cmd.Load == 0 {
		c.idle(duration, stop)
		return
	}

	total, unit := cmd.Load, 1
	if total < 0 {
		total, unit = -total, -1
	}

	c.setState(true)
	defer c.setState(false)
	c.log.Info().Str("verb", cmd.Verb).Int("load", cmd.Load).Int("duration", duration).Msg("Actuation started")

	applied := 0
	for i := 1; i <= duration; i++ {
		select {
		case <-stop:
			return
		case <-time.After(c.tick):
		}
		for quota := total * i / duration; applied < quota; applied++ {
			if err := c.env.ChangeIndicator(c.sector, c.indicator, unit); err != nil {
				c.log.Error().Err(err).Str("indicator", c.indicator).Msg("Increment failed")
			}
		}
	}
	c.log.Info().Str("verb", cmd.Verb).Int("applied", applied*unit).Msg("Actuation complete")
}

func (c *Controller) idle(duration int, stop <-chan struct{}) {
	select {
	case <-stop:
	case <-time.After(time.Duration(duration) * c.tick):
	}
}
