package command

import (
	"testing"

	"bra_notification_bot/internal/domain/subscription"
)

func TestParse(t *testing.T) {
	tests := []struct {
		token string
		want  Command
	}{
		{"menu:welcome", Command{Kind: Welcome}},
		{"menu:search", Command{Kind: Search}},
		{"browse:start", Command{Kind: Browse}},
		{"browse:mountain:Alpes du Nord", Command{Kind: SelectMountain, Mountain: "Alpes du Nord"}},
		{"browse:more:9", Command{Kind: MoreMassifs, Offset: 9}},
		{"massif:select:18", Command{Kind: SelectMassif, MassifCode: 18}},
		{"massif:download:3", Command{Kind: Download, MassifCode: 3}},
		{"massif:subscribe:21", Command{Kind: Subscribe, MassifCode: 21}},
		{"content:toggle:rose_pentes", Command{Kind: ToggleContent, Content: subscription.ContentRosePentes}},
		{"content:confirm", Command{Kind: ConfirmContent}},
		{"manage:menu", Command{Kind: ManageMenu}},
		{"manage:massif:7", Command{Kind: ManageMassif, MassifCode: 7}},
		{"manage_toggle:18:weather", Command{Kind: ManageToggle, MassifCode: 18, Content: subscription.ContentWeather}},
		{"unsub:massif:18", Command{Kind: Unsubscribe, MassifCode: 18}},
		{"unsub:all", Command{Kind: UnsubscribeAll}},

		{"massif:select:abc", Command{Kind: Unknown}},
		{"browse:more:-1", Command{Kind: Unknown}},
		{"manage_toggle:18", Command{Kind: Unknown}},
		{"manage_toggle:18:snowboard", Command{Kind: Unknown}},
		{"content:toggle:", Command{Kind: Unknown}},
		{"browse:mountain:", Command{Kind: Unknown}},
		{"something:else", Command{Kind: Unknown}},
		{"", Command{Kind: Unknown}},
	}
	for _, tt := range tests {
		got := Parse(tt.token)
		got.Raw = ""
		if got != tt.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.token, got, tt.want)
		}
	}
}

func TestBuildersRoundTrip(t *testing.T) {
	tokens := map[string]Kind{
		WelcomeToken():                                     Welcome,
		SearchToken():                                      Search,
		BrowseToken():                                      Browse,
		MountainToken("Pyrénées"):                          SelectMountain,
		MoreMassifsToken(9):                                MoreMassifs,
		SelectMassifToken(18):                              SelectMassif,
		DownloadToken(18):                                  Download,
		SubscribeToken(18):                                 Subscribe,
		ToggleContentToken(subscription.ContentFreshSnow):  ToggleContent,
		ConfirmContentToken():                              ConfirmContent,
		ManageMenuToken():                                  ManageMenu,
		ManageMassifToken(18):                              ManageMassif,
		ManageToggleToken(18, subscription.ContentWeather): ManageToggle,
		UnsubscribeToken(18):                               Unsubscribe,
		UnsubscribeAllToken():                              UnsubscribeAll,
	}
	for tok, kind := range tokens {
		if got := Parse(tok).Kind; got != kind {
			t.Errorf("Parse(%q).Kind = %v, want %v", tok, got, kind)
		}
	}
}
