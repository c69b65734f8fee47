package data

import "github.com/ghalamif/SigFlow/internal/domain"

// Signal pairs a device channel with the data it records into. All logic
// signals of a device share one Logic; every analog signal has its own
// Analog.
type Signal struct {
	channel *domain.Channel
	logic   *Logic
	analog  *Analog
}

func NewLogicSignal(ch *domain.Channel, logic *Logic) *Signal {
	return &Signal{channel: ch, logic: logic}
}

func NewAnalogSignal(ch *domain.Channel, analog *Analog) *Signal {
	return &Signal{channel: ch, analog: analog}
}

func (s *Signal) Channel() *domain.Channel { return s.channel }

func (s *Signal) Name() string { return s.channel.Name }

func (s *Signal) Kind() domain.ChannelKind { return s.channel.Kind }

func (s *Signal) LogicData() *Logic { return s.logic }

func (s *Signal) AnalogData() *Analog { return s.analog }

// Data returns the backing SignalData, or nil for a logic signal on a
// device without enabled logic channels.
func (s *Signal) Data() SignalData {
	switch {
	case s.logic != nil:
		return s.logic
	case s.analog != nil:
		return s.analog
	default:
		return nil
	}
}
