package hls

import (
	"strings"
	"testing"
)

const sampleMaster = `#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="English",LANGUAGE="en",DEFAULT=YES,URI="mlhls://host/en/audio.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="French",LANGUAGE="fr",DEFAULT=NO,URI="mlhls://host/fr/audio.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=800000,AUDIO="aud"
mlhls://host/lo/video.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2000000,AUDIO="aud"
mlhls://host/hi/video.m3u8
`

func TestParseMasterFindsVariantsAndMedia(t *testing.T) {
	p := parseMaster(sampleMaster)
	if len(p.variants) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(p.variants))
	}
	if len(p.media) != 2 {
		t.Fatalf("expected 2 media renditions, got %d", len(p.media))
	}
	if p.media[0].language != "en" || p.media[1].language != "fr" {
		t.Fatalf("unexpected language attrs: %+v", p.media)
	}
}

func TestUniqueURIsDedupesAndOrdersFirstSeen(t *testing.T) {
	p := parsedMaster{
		variants: []variant{{uri: "a"}, {uri: "b"}, {uri: "a"}},
		media:    []mediaRendition{{uri: "c"}, {uri: "b"}},
	}
	got := p.uniqueURIs()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSelectLanguageMarksMatchingDefault(t *testing.T) {
	got := selectLanguage(sampleMaster, "fr")
	for _, line := range strings.Split(got, "\n") {
		if strings.Contains(line, `LANGUAGE="fr"`) && !strings.Contains(line, "DEFAULT=YES") {
			t.Fatalf("expected fr rendition marked DEFAULT=YES: %s", line)
		}
		if strings.Contains(line, `LANGUAGE="en"`) && !strings.Contains(line, "DEFAULT=NO") {
			t.Fatalf("expected en rendition marked DEFAULT=NO: %s", line)
		}
	}
}

func TestSelectLanguageNoMatchLeavesMasterUnchanged(t *testing.T) {
	if got := selectLanguage(sampleMaster, "de"); got != sampleMaster {
		t.Fatalf("expected master unchanged when language code matches nothing")
	}
}

func TestSelectLanguageBlankCodeLeavesMasterUnchanged(t *testing.T) {
	if got := selectLanguage(sampleMaster, ""); got != sampleMaster {
		t.Fatalf("expected master unchanged for blank language code")
	}
}

func TestGetAttrQuotedAndUnquoted(t *testing.T) {
	line := `#EXT-X-STREAM-INF:BANDWIDTH=800000,AUDIO="aud"`
	if got := getAttr(line, "BANDWIDTH"); got != "800000" {
		t.Fatalf("getAttr(BANDWIDTH) = %q", got)
	}
	if got := getAttr(line, "AUDIO"); got != "aud" {
		t.Fatalf("getAttr(AUDIO) = %q", got)
	}
}
