package live

import (
	"encoding/json"

	"github.com/fieldpulse/mobile-core/internal/logging"
	"github.com/fieldpulse/mobile-core/internal/models"
)

// Dispatcher decodes inbound live channel messages and fans them out to
// typed subscribers. Unknown or malformed messages are logged and
// dropped; a single bad message never tears down the connection.
//
// Handle is called synchronously from the read loop, so delivery order
// always matches arrival order.
type Dispatcher struct {
	OnTechLocation func(models.TechLocation)
	OnTechStatus   func(models.TechStatus)
	OnJobAssigned  func(models.JobAssigned)
	OnJobStatus    func(models.JobStatusEvent)
	OnConnected    func()
	OnPong         func()
}

// Handle parses one raw message and routes it.
func (d *Dispatcher) Handle(raw []byte) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logging.Warn("dropping malformed live message", "error", err.Error())
		return
	}

	switch env.Type {
	case models.MessageTechLocation:
		var p models.TechLocation
		if !decode(env, &p) {
			return
		}
		if d.OnTechLocation != nil {
			d.OnTechLocation(p)
		}

	case models.MessageTechStatus:
		var p models.TechStatus
		if !decode(env, &p) {
			return
		}
		if d.OnTechStatus != nil {
			d.OnTechStatus(p)
		}

	case models.MessageJobAssigned:
		var p models.JobAssigned
		if !decode(env, &p) {
			return
		}
		if d.OnJobAssigned != nil {
			d.OnJobAssigned(p)
		}

	case models.MessageJobStatus:
		var p models.JobStatusEvent
		if !decode(env, &p) {
			return
		}
		if d.OnJobStatus != nil {
			d.OnJobStatus(p)
		}

	case models.MessageConnected:
		if d.OnConnected != nil {
			d.OnConnected()
		}

	case models.MessagePong:
		if d.OnPong != nil {
			d.OnPong()
		}

	default:
		logging.Warn("dropping unknown live message type", "type", env.Type)
	}
}

// decode unmarshals the envelope payload, logging and dropping on error.
func decode(env models.Envelope, v interface{}) bool {
	if len(env.Data) == 0 {
		logging.Warn("dropping live message without payload", "type", env.Type)
		return false
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		logging.Warn("dropping live message with malformed payload",
			"type", env.Type, "error", err.Error())
		return false
	}
	return true
}
