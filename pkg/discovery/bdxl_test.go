package discovery

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/miekg/dns"

	"github.com/sirosfoundation/go-ehf/pkg/peppol"
)

func TestHashPartyID(t *testing.T) {
	tests := []struct {
		name    string
		partyID string
		want    string
		wantErr bool
	}{
		{
			name:    "PEPPOL value",
			partyID: "9908:974763907",
			want:    "IMPMYTNSHS6HHPFJ2FEDMY4JTGFDSYFI65K3VYYEOD5OVPTFFQCA",
		},
		{
			name:    "hash ignores case",
			partyID: "0088:ABC",
			want:    "WZ2ATFY6TY42YLP5MXC3N5DHZRI2UFPYE7IMUFXRC556DJZQ7QYA",
		},
		{
			name:    "empty",
			partyID: "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := hashPartyID(tt.partyID)
			if (err != nil) != tt.wantErr {
				t.Fatalf("hashPartyID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("hashPartyID() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestQueryDomain(t *testing.T) {
	l := NewBDXLLocator("edelivery.tech.ec.europa.eu.")
	got, err := l.QueryDomain(peppol.NewParticipantIdentifier("9908:974763907"))
	if err != nil {
		t.Fatalf("QueryDomain() error = %v", err)
	}
	want := "IMPMYTNSHS6HHPFJ2FEDMY4JTGFDSYFI65K3VYYEOD5OVPTFFQCA.iso6523-actorid-upis.edelivery.tech.ec.europa.eu"
	if got != want {
		t.Errorf("QueryDomain() = %s, want %s", got, want)
	}

	if _, err := l.QueryDomain(peppol.ParticipantIdentifier{}); !errors.Is(err, ErrInvalidPartyID) {
		t.Errorf("QueryDomain() error = %v, want ErrInvalidPartyID", err)
	}
}

func TestExtractURLFromRegexp(t *testing.T) {
	tests := []struct {
		name    string
		regexp  string
		want    string
		wantErr bool
	}{
		{name: "simple", regexp: "!.*!https://smp.example.com/!", want: "https://smp.example.com/"},
		{name: "http", regexp: "!^.*$!http://smp.example.com!", want: "http://smp.example.com"},
		{name: "empty", regexp: "", wantErr: true},
		{name: "no separators", regexp: "https://smp.example.com", wantErr: true},
		{name: "empty replacement", regexp: "!.*!!", wantErr: true},
		{name: "ftp scheme", regexp: "!.*!ftp://smp.example.com!", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractURLFromRegexp(tt.regexp)
			if (err != nil) != tt.wantErr {
				t.Fatalf("extractURLFromRegexp() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("extractURLFromRegexp() = %s, want %s", got, tt.want)
			}
		})
	}
}

func naptr(order, pref uint16, flags, service, regexp string) *dns.NAPTR {
	return &dns.NAPTR{
		Hdr:         dns.RR_Header{Name: "x.", Rrtype: dns.TypeNAPTR, Class: dns.ClassINET, Ttl: 60},
		Order:       order,
		Preference:  pref,
		Flags:       flags,
		Service:     service,
		Regexp:      regexp,
		Replacement: ".",
	}
}

func TestSelectBestRecord(t *testing.T) {
	tests := []struct {
		name      string
		preferred ServiceType
		records   []*dns.NAPTR
		want      string
		wantErr   error
	}{
		{
			name: "lowest order wins",
			records: []*dns.NAPTR{
				naptr(20, 10, "U", "Meta:SMP", "!.*!http://second!"),
				naptr(10, 10, "U", "Meta:SMP", "!.*!http://first!"),
			},
			want: "http://first",
		},
		{
			name: "preferred service beats lower order",
			records: []*dns.NAPTR{
				naptr(10, 10, "U", "oasis-bdxr-smp-2", "!.*!http://smp2!"),
				naptr(20, 10, "U", "Meta:SMP", "!.*!http://smp1!"),
			},
			want: "http://smp1",
		},
		{
			name:      "SMP 2 preferred",
			preferred: ServiceTypeSMP2,
			records: []*dns.NAPTR{
				naptr(10, 10, "U", "Meta:SMP", "!.*!http://smp1!"),
				naptr(20, 10, "U", "oasis-bdxr-smp-2", "!.*!http://smp2!"),
			},
			want: "http://smp2",
		},
		{
			name: "non-terminal records skipped",
			records: []*dns.NAPTR{
				naptr(10, 10, "S", "Meta:SMP", "!.*!http://nope!"),
				naptr(10, 10, "U", "E2U+sip", "!.*!http://nope!"),
			},
			wantErr: ErrServiceNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewBDXLLocatorWithConfig(BDXLLocatorConfig{Domain: "example.com", PreferredService: tt.preferred})
			got, err := l.selectBestRecord(tt.records)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("selectBestRecord() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("selectBestRecord() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("selectBestRecord() = %s, want %s", got, tt.want)
			}
		})
	}
}

// startDNS serves NAPTR answers from zone on a local UDP port
func startDNS(t *testing.T, zone map[string][]dns.RR) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	started := make(chan struct{})
	server := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			answers, ok := zone[dns.CanonicalName(r.Question[0].Name)]
			if !ok {
				m.Rcode = dns.RcodeNameError
			}
			m.Answer = answers
			_ = w.WriteMsg(m)
		}),
	}
	go func() { _ = server.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = server.Shutdown() })

	return pc.LocalAddr().String()
}

func TestBDXLLocateSMP(t *testing.T) {
	participant := peppol.NewParticipantIdentifier("9908:974763907")
	l := NewBDXLLocator("bdxl.test")
	name, err := l.QueryDomain(participant)
	if err != nil {
		t.Fatal(err)
	}

	record := naptr(100, 10, "U", "Meta:SMP", "!.*!http://smp.example.no!")
	record.Hdr.Name = dns.Fqdn(name)
	addr := startDNS(t, map[string][]dns.RR{dns.CanonicalName(name): {record}})

	l = NewBDXLLocatorWithConfig(BDXLLocatorConfig{Domain: "bdxl.test", DNSServer: addr})
	got, err := l.LocateSMP(context.Background(), participant)
	if err != nil {
		t.Fatalf("LocateSMP() error = %v", err)
	}
	if got != "http://smp.example.no" {
		t.Errorf("LocateSMP() = %s, want http://smp.example.no", got)
	}

	_, err = l.LocateSMP(context.Background(), peppol.NewParticipantIdentifier("9908:000000000"))
	if !errors.Is(err, ErrNoRecordsFound) {
		t.Errorf("LocateSMP() error = %v, want ErrNoRecordsFound", err)
	}
}
