package media

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

var errNoAudio = errors.New("media: no audio description in sdp")

// remoteMedia is the audio description pulled out of a peer's SDP.
type remoteMedia struct {
	addr   *net.UDPAddr
	codecs []Codec
	dtmfPT uint8 // 0 when the peer offered no telephone-event
}

// marshalSDP renders an offer or answer carrying the given audio codecs
// plus one telephone-event payload.
func marshalSDP(localIP string, port int, codecs []Codec, dtmf Codec) ([]byte, error) {
	formats := make([]string, 0, len(codecs)+1)
	attributes := make([]sdp.Attribute, 0, len(codecs)+4)
	for _, c := range codecs {
		formats = append(formats, strconv.Itoa(int(c.PayloadType)))
		attributes = append(attributes,
			sdp.NewAttribute("rtpmap", fmt.Sprintf("%d %s/%d", c.PayloadType, c.Name, c.ClockRate)))
	}
	formats = append(formats, strconv.Itoa(int(dtmf.PayloadType)))
	attributes = append(attributes,
		sdp.NewAttribute("rtpmap", fmt.Sprintf("%d %s/%d", dtmf.PayloadType, dtmf.Name, dtmf.ClockRate)),
		sdp.NewAttribute("fmtp", fmt.Sprintf("%d 0-16", dtmf.PayloadType)),
		sdp.NewAttribute("ptime", "20"),
		sdp.NewPropertyAttribute("sendrecv"),
	)

	now := uint64(time.Now().Unix())
	sd := sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      now,
			SessionVersion: now,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: localIP,
		},
		SessionName: "tgsip",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: localIP},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
		MediaDescriptions: []*sdp.MediaDescription{{
			MediaName: sdp.MediaName{
				Media:   "audio",
				Port:    sdp.RangedPort{Value: port},
				Protos:  []string{"RTP", "AVP"},
				Formats: formats,
			},
			Attributes: attributes,
		}},
	}
	return sd.Marshal()
}

// parseRemoteSDP extracts the first active audio description: transport
// address, payload formats in preference order and the telephone-event
// payload type if offered.
func parseRemoteSDP(body []byte) (*remoteMedia, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("media: parse sdp: %w", err)
	}
	var audio *sdp.MediaDescription
	for _, md := range sd.MediaDescriptions {
		if strings.EqualFold(md.MediaName.Media, "audio") && md.MediaName.Port.Value > 0 {
			audio = md
			break
		}
	}
	if audio == nil {
		return nil, errNoAudio
	}
	conn := audio.ConnectionInformation
	if conn == nil {
		conn = sd.ConnectionInformation
	}
	if conn == nil || conn.Address == nil {
		return nil, errors.New("media: sdp has no connection address")
	}
	addr, err := net.ResolveUDPAddr("udp4",
		net.JoinHostPort(conn.Address.Address, strconv.Itoa(audio.MediaName.Port.Value)))
	if err != nil {
		return nil, fmt.Errorf("media: resolve %q: %w", conn.Address.Address, err)
	}

	rtpmap := map[uint8]Codec{}
	for _, attr := range audio.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}
		pt, c, err := parseRTPMap(attr.Value)
		if err != nil {
			continue
		}
		rtpmap[pt] = c
	}

	remote := &remoteMedia{addr: addr}
	for _, format := range audio.MediaName.Formats {
		n, err := strconv.Atoi(format)
		if err != nil || n < 0 || n > 127 {
			continue
		}
		pt := uint8(n)
		c, ok := rtpmap[pt]
		if !ok {
			// Static payload types may come without an rtpmap.
			switch pt {
			case 0:
				c = PCMU()
			case 8:
				c = PCMA()
			default:
				continue
			}
		}
		c.PayloadType = pt
		if strings.EqualFold(c.Name, "telephone-event") {
			if remote.dtmfPT == 0 {
				remote.dtmfPT = pt
			}
			continue
		}
		remote.codecs = append(remote.codecs, c)
	}
	return remote, nil
}

// parseRTPMap decodes "<pt> <name>/<clock>[/<channels>]".
func parseRTPMap(value string) (uint8, Codec, error) {
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return 0, Codec{}, fmt.Errorf("media: malformed rtpmap %q", value)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 0 || n > 127 {
		return 0, Codec{}, fmt.Errorf("media: rtpmap payload type %q", fields[0])
	}
	parts := strings.Split(fields[1], "/")
	if len(parts) < 2 {
		return 0, Codec{}, fmt.Errorf("media: rtpmap encoding %q", fields[1])
	}
	rate, err := strconv.Atoi(parts[1])
	if err != nil || rate <= 0 {
		return 0, Codec{}, fmt.Errorf("media: rtpmap clock rate %q", parts[1])
	}
	channels := 1
	if len(parts) > 2 {
		if ch, err := strconv.Atoi(parts[2]); err == nil && ch > 0 {
			channels = ch
		}
	}
	return uint8(n), Codec{
		Name:        parts[0],
		PayloadType: uint8(n),
		ClockRate:   uint32(rate),
		Channels:    uint8(channels),
	}, nil
}

// selectCodec picks the first local codec the remote also carries,
// keeping the remote's payload type for dynamic codecs.
func selectCodec(local []Codec, remote *remoteMedia) (Codec, bool) {
	for _, want := range local {
		for _, have := range remote.codecs {
			if strings.EqualFold(want.Name, have.Name) && want.ClockRate == have.ClockRate {
				want.PayloadType = have.PayloadType
				return want, true
			}
		}
	}
	return Codec{}, false
}
