package command

import (
	"encoding/xml"
	"time"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// capturedState is the XML fragment a deferred command is parked as. The
// root element is the command kind.
//
//	<insert remote="10.0.0.7:52114">
//	  <payload><![CDATA[<insert>...</insert>]]></payload>
//	  <timing><received>...</received><deferred>...</deferred></timing>
//	</insert>
type capturedState struct {
	XMLName xml.Name
	Remote  string `xml:"remote,attr,omitempty"`
	Arg     string `xml:"arg,attr,omitempty"`
	Payload cdata  `xml:"payload"`
	Timing  timing `xml:"timing"`
}

type cdata struct {
	Text string `xml:",cdata"`
}

type timing struct {
	Received time.Time `xml:"received"`
	Deferred time.Time `xml:"deferred"`
}

// CaptureState serializes the command for replay.
func (b *base) CaptureState() ([]byte, error) {
	st := capturedState{
		XMLName: xml.Name{Local: b.kind},
		Remote:  b.remote,
		Arg:     b.arg,
		Payload: cdata{Text: string(b.payload)},
		Timing:  timing{Received: b.received, Deferred: time.Now().UTC()},
	}
	out, err := xml.Marshal(st)
	return out, errors.Wrapf(err, "capturing %s", b.kind)
}

// restore fills the command fields from captured state; the concrete
// command then decodes the payload again.
func (b *base) restore(state []byte) error {
	var st capturedState
	if err := xml.Unmarshal(state, &st); err != nil {
		return errors.Wrapf(types.ErrInvalidPayload, "captured %s: %v", b.kind, err)
	}
	if st.XMLName.Local != b.kind {
		return errors.Wrapf(types.ErrInvalidPayload, "captured %s holds %s", b.kind, st.XMLName.Local)
	}
	b.remote, b.arg, b.payload = st.Remote, st.Arg, []byte(st.Payload.Text)
	b.received = st.Timing.Received
	return nil
}
