package world

// hostState is the sensor surface one organism sees during its step. A
// single adapter is shared by every instance; the engine points it at the
// current organism before each step, so sensors always read a coherent
// snapshot of that organism's situation.
type hostState struct {
	sim    *Simulation
	pos    Position
	energy int32
	age    uint64
}

// ReadTile returns the tile kind at the given offset, or -1 outside the
// configured sensor radius.
func (h *hostState) ReadTile(dx, dy int32) int32 {
	r := h.sim.cfg.Exec.SensorRadius
	if dx < -r || dx > r || dy < -r || dy > r {
		return -1
	}
	t := h.sim.grid.At(h.pos.X+int(dx), h.pos.Y+int(dy))
	return int32(t.Kind)
}

// SenseNeighbor reports whether the addressed neighbor slot is occupied.
func (h *hostState) SenseNeighbor(slot int32) int32 {
	d := neighborSlots[wrapSlot(slot)]
	x, y := h.sim.grid.Wrap(h.pos.X+d.X, h.pos.Y+d.Y)
	if _, ok := h.sim.occupied[Position{X: x, Y: y}]; ok {
		return 1
	}
	return 0
}

func (h *hostState) Energy() int32 { return h.energy }

func (h *hostState) Age() int32 { return int32(h.age) }

func wrapSlot(slot int32) int32 {
	return ((slot % 8) + 8) % 8
}
