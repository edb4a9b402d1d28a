package frameloop

import (
	"fmt"
)

type fakeToken struct {
	id        int
	slot      int
	signalled bool
}

func (t *fakeToken) String() string {
	return fmt.Sprintf("token %d (slot %d)", t.id, t.slot)
}

type fakeAcquire struct {
	slot       int
	suboptimal bool
	err        error
}

// fakeGPU is a Surface and Queue whose tokens only signal when waited on, so
// any submission against a slot with unwaited work is caught.
type fakeGPU struct {
	slotCount int

	rebuildResults []error
	acquireResults map[int]fakeAcquire
	presentResults map[int]error
	submitErr      error
	waitErr        error

	next     int
	rebuilds int
	acquires int
	presents int

	calls        []string
	rebuildSizes []Extent
	submitted    []*fakeToken
	waited       []*fakeToken
	priors       []Token
	inFlight     map[int]*fakeToken
	violations   []string
}

func newFakeGPU(slots int) *fakeGPU {
	return &fakeGPU{
		slotCount:      slots,
		acquireResults: map[int]fakeAcquire{},
		presentResults: map[int]error{},
		inFlight:       map[int]*fakeToken{},
	}
}

func (g *fakeGPU) Rebuild(size Extent) (Resources, error) {
	g.rebuilds++
	g.calls = append(g.calls, "rebuild")
	g.rebuildSizes = append(g.rebuildSizes, size)

	for slot, token := range g.inFlight {
		if !token.signalled {
			g.violations = append(g.violations, fmt.Sprintf("rebuild with slot %d in flight", slot))
		}
	}

	if len(g.rebuildResults) > 0 {
		err := g.rebuildResults[0]
		g.rebuildResults = g.rebuildResults[1:]
		if err != nil {
			return Resources{}, err
		}
	}

	g.next = 0
	g.inFlight = map[int]*fakeToken{}
	return Resources{Slots: g.slotCount, Render: g.rebuilds}, nil
}

func (g *fakeGPU) Acquire() (Acquisition, error) {
	g.acquires++
	g.calls = append(g.calls, "acquire")

	if scripted, ok := g.acquireResults[g.acquires]; ok {
		if scripted.err != nil {
			return Acquisition{}, scripted.err
		}
		return Acquisition{
			Slot:       scripted.slot,
			ImageReady: fmt.Sprintf("ready %d", g.acquires),
			Suboptimal: scripted.suboptimal,
		}, nil
	}

	slot := g.next
	g.next = (g.next + 1) % g.slotCount
	return Acquisition{Slot: slot, ImageReady: fmt.Sprintf("ready %d", g.acquires)}, nil
}

func (g *fakeGPU) Present(slot int) error {
	g.presents++
	g.calls = append(g.calls, "present")
	return g.presentResults[g.presents]
}

func (g *fakeGPU) Submit(slot int, imageReady Token, priorDone Token) (Token, error) {
	g.calls = append(g.calls, "submit")
	if g.submitErr != nil {
		return nil, g.submitErr
	}

	if previous := g.inFlight[slot]; previous != nil && !previous.signalled {
		g.violations = append(g.violations, fmt.Sprintf("slot %d resubmitted while %s in flight", slot, previous))
	}

	token := &fakeToken{id: len(g.submitted) + 1, slot: slot}
	g.submitted = append(g.submitted, token)
	g.priors = append(g.priors, priorDone)
	g.inFlight[slot] = token
	return token, nil
}

func (g *fakeGPU) Wait(token Token) error {
	g.calls = append(g.calls, "wait")
	if g.waitErr != nil {
		return g.waitErr
	}

	fake := token.(*fakeToken)
	fake.signalled = true
	g.waited = append(g.waited, fake)
	return nil
}

// since returns the calls made after mark.
func (g *fakeGPU) since(mark int) []string {
	return append([]string(nil), g.calls[mark:]...)
}
