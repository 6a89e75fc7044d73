package validate

import "github.com/serialexp/binschema/schema"

// checkProtocol validates the optional protocol descriptor: its header type
// must exist, every message's payload type must exist, and message codes
// must be unique within a direction.
func (v *validator) checkProtocol() {
	p := v.schema.Protocol
	if p == nil {
		return
	}
	if p.HeaderType != "" && v.schema.Lookup(p.HeaderType) == nil {
		v.fail(schema.CodeBadReference, p.HeaderType, "", "protocol header type %q is not declared", p.HeaderType)
	}
	seen := map[schema.Direction]map[uint64]string{}
	for _, msg := range p.Messages {
		if v.schema.Lookup(msg.PayloadType) == nil {
			v.fail(schema.CodeBadReference, msg.PayloadType, "", "protocol message %q references undeclared payload type %q", msg.Name, msg.PayloadType)
		}
		if seen[msg.Direction] == nil {
			seen[msg.Direction] = map[uint64]string{}
		}
		if prior, dup := seen[msg.Direction][msg.Code]; dup {
			v.fail(schema.CodeBadReference, msg.PayloadType, "", "message code 0x%X reused by %q and %q in direction %q", msg.Code, prior, msg.Name, msg.Direction)
		}
		seen[msg.Direction][msg.Code] = msg.Name
	}
}
