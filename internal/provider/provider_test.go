package provider

import "testing"

func TestClassifyKnownProviders(t *testing.T) {
	cases := []struct {
		hosts []string
		want  Tag
	}{
		{[]string{"aspmx.l.google.com"}, Google},
		{[]string{"ASPMX2.GOOGLEMAIL.COM"}, Google},
		{[]string{"example-com.mail.protection.outlook.com"}, Microsoft},
		{[]string{"mx1.yahoodns.net"}, Yahoo},
		{[]string{"mx.icloud.com"}, ICloud},
		{[]string{"mx1-us1.ppe-hosted.com", "mx2.pphosted.com"}, Proofpoint},
		{[]string{"eu-smtp-inbound-1.mimecast.com"}, Mimecast},
	}
	for _, tc := range cases {
		tag, prior := Classify(tc.hosts)
		if tag != tc.want {
			t.Errorf("Classify(%v) tag = %v, want %v", tc.hosts, tag, tc.want)
		}
		if prior <= 0 || prior > 1 {
			t.Errorf("Classify(%v) prior = %v, want in (0,1]", tc.hosts, prior)
		}
	}
}

func TestClassifyUnknownIsGenericLowPrior(t *testing.T) {
	tag, prior := Classify([]string{"mx.some-corporate-domain.example"})
	if tag != Generic {
		t.Errorf("tag = %v, want Generic", tag)
	}
	if prior >= 0.5 {
		t.Errorf("expected a low prior for an unrecognized provider, got %v", prior)
	}
}

func TestClassifyEmptyHosts(t *testing.T) {
	tag, _ := Classify(nil)
	if tag != Generic {
		t.Errorf("Classify(nil) tag = %v, want Generic", tag)
	}
}
