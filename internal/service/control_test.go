package service

import (
	"errors"
	"testing"

	greenhouse "greenhouse_controller"
	"greenhouse_controller/internal/state"
)

func newControlFixture(dist *stubDistance) (*ControlService, *state.Store, *stubActuators) {
	store := state.NewStore()
	store.SetConfig(greenhouse.DefaultControlConfig())
	acts := &stubActuators{}
	svc := NewControlService(store, dist, acts, nil, testLogger())
	return svc, store, acts
}

func setSoil(store *state.Store, soil int) {
	r := store.Readings()
	r.SoilMoisture = soil
	store.SetSensorReadings(r)
}

func TestControl_PumpHysteresis(t *testing.T) {
	// Defaults: soil_dry=40, soil_wet=70, dead band in between.
	svc, store, acts := newControlFixture(&stubDistance{cm: 10})

	steps := []struct {
		soil int
		pump bool
	}{
		{35, true},  // below dry: on
		{45, true},  // dead band: hold on
		{55, true},  // dead band: hold on
		{72, false}, // above wet: off
		{65, false}, // dead band: hold off
	}
	for i, s := range steps {
		setSoil(store, s.soil)
		svc.step()
		got, ok := acts.last()
		if !ok {
			t.Fatalf("step %d: no actuator state applied", i)
		}
		if got.Pump != s.pump {
			t.Fatalf("step %d (soil=%d): pump=%v, want %v", i, s.soil, got.Pump, s.pump)
		}
	}
}

func TestControl_DistanceFailureReadsEmptyTank(t *testing.T) {
	dist := &stubDistance{err: errors.New("no echo")}
	svc, store, acts := newControlFixture(dist)

	setSoil(store, 10) // bone dry, pump would normally run
	svc.step()

	got, _ := acts.last()
	if got.Pump {
		t.Fatalf("pump must stay off when the tank reads empty")
	}
	if lvl := store.Readings().TankLevel; lvl != 0 {
		t.Fatalf("tank level = %d, want 0", lvl)
	}
}

func TestControl_TankRunsOutStopsPump(t *testing.T) {
	dist := &stubDistance{cm: 10}
	svc, store, acts := newControlFixture(dist)

	setSoil(store, 20)
	svc.step()
	if got, _ := acts.last(); !got.Pump {
		t.Fatalf("pump should run with dry soil and water available")
	}

	// Echo now reads at the empty mark.
	dist.cm = greenhouse.DefaultControlConfig().TankEmptyDist
	svc.step()
	if got, _ := acts.last(); got.Pump {
		t.Fatalf("pump must stop once the tank is empty")
	}
}

func TestControl_ManualCopiesOverrides(t *testing.T) {
	svc, store, acts := newControlFixture(&stubDistance{cm: 10})

	store.SetMode(greenhouse.ModeManual)
	store.SetOverridePump(true)
	store.SetOverrideHeater(true)
	setSoil(store, 99) // saturated soil must not matter in MANUAL

	svc.step()

	got, _ := acts.last()
	want := greenhouse.ActuatorStatus{Pump: true, Fan: false, Heater: true}
	if got != want {
		t.Fatalf("actuators = %+v, want %+v", got, want)
	}
}

func TestControl_ManualSeedsHysteresis(t *testing.T) {
	svc, store, acts := newControlFixture(&stubDistance{cm: 10})

	// Pump forced on in MANUAL, then back to AUTO inside the dead band:
	// the dead band must hold the commanded state, not restart from off.
	store.SetMode(greenhouse.ModeManual)
	store.SetOverridePump(true)
	svc.step()

	store.SetMode(greenhouse.ModeAuto)
	setSoil(store, 55)
	svc.step()

	if got, _ := acts.last(); !got.Pump {
		t.Fatalf("dead band after MANUAL should hold the pump on")
	}
}

func TestControl_FanAndHeaterThresholds(t *testing.T) {
	svc, store, acts := newControlFixture(&stubDistance{cm: 10})

	// Hot and humid: fan on, heater off.
	store.SetSensorReadings(greenhouse.Readings{Temperature: 34, Humidity: 80, SoilMoisture: 50})
	svc.step()
	got, _ := acts.last()
	if !got.Fan || got.Heater {
		t.Fatalf("hot: fan=%v heater=%v, want fan on heater off", got.Fan, got.Heater)
	}

	// Cold night: heater on, fan off.
	store.SetSensorReadings(greenhouse.Readings{Temperature: 12, Humidity: 40, SoilMoisture: 50})
	svc.step()
	got, _ = acts.last()
	if got.Fan || !got.Heater {
		t.Fatalf("cold: fan=%v heater=%v, want heater on fan off", got.Fan, got.Heater)
	}
}
