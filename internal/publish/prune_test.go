package publish

import "testing"

func TestIsBuildFile(t *testing.T) {
	tests := []struct {
		rel  string
		want bool
	}{
		{"My Mod.rootinfo", true},
		{"Windows/My Mod.info", true},
		{"Windows/MyMod.dll", true},
		{"Plugin.dll", true},
		{"Windows/Windows/Windows", true},
		{"Windows/Windows/Windows.manifest", true},
		{"Windows/Windows/my mod.assets", true},
		{"Windows/Windows/my mod.assets.manifest", true},
		{"Windows/Windows/my mod.scenes", true},
		{"Windows/Windows/Extra.dll", false},
		{"Windows/Other Mod.info", false},
		{"Windows/My Mod.rootinfo", false},
		{"README.md", false},
		{"Windows/notes.txt", false},
		{"Windows/Windows/textures.assets", false},
		{"Screenshots/shot.png", false},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			if got := IsBuildFile(tt.rel, "My Mod"); got != tt.want {
				t.Errorf("IsBuildFile(%q) = %v, want %v", tt.rel, got, tt.want)
			}
		})
	}
}
