// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package chiller implements C6: the refrigeration control loop. It reads
// the thermistor divider through an ADC, converts the reading to a
// temperature with the Steinhart-Hart equation, and commits a hysteresis
// on/off decision to the shared matrix bus's compressor flag no more
// often than once every minCycleCount measurement intervals, to protect
// the compressor from short-cycling.
package chiller

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/davidmpye/snackbot/internal/hal/adc"
	"github.com/davidmpye/snackbot/internal/hal/matrix"
	"github.com/davidmpye/snackbot/internal/hal/pin"
)

// DefaultSetpoint is the target temperature in degrees Celsius absent any
// application override.
const DefaultSetpoint = 8.0

const (
	numMeasurements  = 10
	measurementDelay = 10 * time.Millisecond
	measureInterval  = 60 * time.Second
	minCycleCount    = 5 // multiple of measureInterval between compressor commits

	thermistorPullupOhms = 10000.0
	adcMaxCount          = 4095.0
	adcRefMillivolts     = 3300.0
)

// Steinhart-Hart coefficients pre-tuned for the 3.3k thermistor fitted to
// this machine's chiller.
const (
	thermistorA = 1.3811057615602958e-3
	thermistorB = 2.370102475713365e-4
	thermistorC = 9.879312896211082e-8
)

var errSteinhartHart = errors.New("chiller: steinhart-hart calculation error")

// Driver is the C6 control loop.
type Driver struct {
	adc adc.Channel
	bus *matrix.Bus
	led pin.Pin
	log *logrus.Entry

	setpoint   float64
	cycleCount int
	chillerOn  bool

	measureInterval time.Duration
}

// New builds a chiller Driver reading ch, committing its on/off decision
// to bus's compressor flag, and mirroring that decision onto the
// board-mounted status led. setpoint is the target temperature in
// Celsius; pass DefaultSetpoint absent an application override.
func New(ch adc.Channel, bus *matrix.Bus, led pin.Pin, setpoint float64, log *logrus.Entry) *Driver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if led != nil {
		led.Out()
		led.Low()
	}

	return &Driver{
		adc:             ch,
		bus:             bus,
		led:             led,
		log:             log.WithField("component", "chiller"),
		setpoint:        setpoint,
		cycleCount:      minCycleCount, // forces an initial compute on the first measurement
		measureInterval: measureInterval,
	}
}

// Run measures and evaluates the control law every measureInterval until
// ctx is cancelled.
func (d *Driver) Run(ctx context.Context) {
	for ctx.Err() == nil {
		d.tick()
		if !sleepCtx(ctx, d.measureInterval) {
			return
		}
	}
}

func (d *Driver) tick() {
	counts, err := d.measure()
	if err != nil {
		d.log.WithError(err).Warn("ADC read failed")
		return
	}

	temp, err := steinhartTemp(resistanceFromCounts(counts))
	if err != nil {
		d.log.WithError(err).Error("temperature calculation error")
		return
	}

	d.evaluate(temp)
}

func (d *Driver) measure() (uint16, error) {
	var sum uint32
	for i := 0; i < numMeasurements; i++ {
		v, err := d.adc.Read()
		if err != nil {
			return 0, err
		}
		sum += uint32(v)
		time.Sleep(measurementDelay)
	}
	return uint16(sum / numMeasurements), nil
}

// resistanceFromCounts converts a raw 12-bit ADC count to the thermistor
// leg's resistance, given a pull-up divider referenced to the ADC's full
// scale voltage.
func resistanceFromCounts(counts uint16) float64 {
	voltage := (float64(counts) / adcMaxCount) * adcRefMillivolts
	return (voltage * thermistorPullupOhms) / (adcRefMillivolts - voltage)
}

// steinhartTemp converts a thermistor resistance in Ohms to a temperature
// in degrees Celsius: 1/T = A + B*ln(R) + C*ln(R)^3.
func steinhartTemp(resistance float64) (float64, error) {
	if resistance <= 0 {
		return 0, errSteinhartHart
	}

	lnR := math.Log(resistance)
	inverseTempK := thermistorA + thermistorB*lnR + thermistorC*math.Pow(lnR, 3)
	if inverseTempK == 0 {
		return 0, errSteinhartHart
	}

	tempK := 1 / inverseTempK
	return tempK - 273.15, nil
}

// evaluate applies the hysteresis control law and commits a state change
// to hardware only once every minCycleCount measurement intervals.
func (d *Driver) evaluate(tempC float64) {
	d.cycleCount++
	if d.cycleCount >= minCycleCount {
		newState := tempC > d.setpoint+0.5
		if newState != d.chillerOn {
			d.chillerOn = newState
			d.bus.SetCompressor(newState)
			if d.led != nil {
				if newState {
					d.led.High()
				} else {
					d.led.Low()
				}
			}
			d.log.WithField("chiller_on", newState).Debug("chiller state changed")
		}
		d.cycleCount = 0
	}

	d.log.WithFields(logrus.Fields{
		"temp_c":     tempC,
		"setpoint_c": d.setpoint,
		"chiller_on": d.chillerOn,
	}).Info("chiller temperature reading")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
