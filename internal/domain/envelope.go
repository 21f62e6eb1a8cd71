package domain

// EnvelopeKind tags which variant of a poll response is populated.
type EnvelopeKind int

const (
	EnvelopeEmpty EnvelopeKind = iota
	EnvelopeJob
	EnvelopeError
)

func (k EnvelopeKind) String() string {
	switch k {
	case EnvelopeJob:
		return "job"
	case EnvelopeError:
		return "error"
	default:
		return "empty"
	}
}

// Envelope is the interpreted poll response. Exactly one of Job or Message
// is meaningful, selected by Kind.
type Envelope struct {
	Kind    EnvelopeKind
	Job     *Job
	Message string
}

func EmptyEnvelope() Envelope {
	return Envelope{Kind: EnvelopeEmpty}
}

func JobEnvelope(job *Job) Envelope {
	return Envelope{Kind: EnvelopeJob, Job: job}
}

func ErrorEnvelope(msg string) Envelope {
	return Envelope{Kind: EnvelopeError, Message: msg}
}
