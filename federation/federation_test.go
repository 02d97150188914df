package federation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsOnline(t *testing.T) {
	assert := assert.New(t)

	assert.True(IsOnline("https://www.arcgis.com/sharing/rest"))
	assert.True(IsOnline("https://myorg.maps.arcgis.com"))
	assert.True(IsOnline("https://services3.arcgis.com/abc/arcgis/rest/services"))
	assert.True(IsOnline("http://arcgis.com"))

	assert.False(IsOnline("https://gis.example.com/portal"))
	assert.False(IsOnline("https://notarcgis.com"))
	assert.False(IsOnline("https://arcgis.com.evil.example"))
}

func TestOnlineEnvironment(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(EnvProduction, OnlineEnvironment("https://www.arcgis.com"))
	assert.Equal(EnvProduction, OnlineEnvironment("https://myorg.maps.arcgis.com"))
	assert.Equal(EnvQA, OnlineEnvironment("https://qaext.arcgis.com"))
	assert.Equal(EnvQA, OnlineEnvironment("https://myorg.mapsqaext.arcgis.com"))
	assert.Equal(EnvDev, OnlineEnvironment("https://devext.arcgis.com"))
	assert.Equal(EnvDev, OnlineEnvironment("https://myorg.mapsdevext.arcgis.com"))
	assert.Equal(Environment(""), OnlineEnvironment("https://gis.example.com"))
}

func TestCanUseOnlineToken(t *testing.T) {
	assert := assert.New(t)

	// same tier
	assert.True(CanUseOnlineToken("https://myorg.maps.arcgis.com", "https://services3.arcgis.com/abc/rest"))
	assert.True(CanUseOnlineToken("https://devext.arcgis.com", "https://myorg.mapsdevext.arcgis.com"))

	// tokens never cross tiers
	assert.False(CanUseOnlineToken("https://devext.arcgis.com", "https://www.arcgis.com"))
	assert.False(CanUseOnlineToken("https://qaext.arcgis.com", "https://devext.arcgis.com"))

	// either side off-platform
	assert.False(CanUseOnlineToken("https://www.arcgis.com", "https://gis.example.com/server"))
	assert.False(CanUseOnlineToken("https://gis.example.com/portal", "https://www.arcgis.com"))
}

func TestIsFederated(t *testing.T) {
	assert := assert.New(t)

	// protocol differences are ignored
	assert.True(IsFederated("http://gis.example.com/portal", "https://gis.example.com/portal"))
	assert.True(IsFederated("https://gis.example.com/portal", "https://gis.example.com/portal/sharing/rest"))
	assert.True(IsFederated("https://gis.example.com/portal/sharing/rest", "https://gis.example.com/portal"))

	assert.False(IsFederated("https://other.example.com/portal", "https://gis.example.com/portal"))
	assert.False(IsFederated("", "https://gis.example.com/portal"))
	assert.False(IsFederated("https://gis.example.com/portal", ""))
}

func TestServerRoot(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("https://gis.example.com/server",
		ServerRoot("https://gis.example.com/server/rest/services/Roads/FeatureServer/0"))
	assert.Equal("https://gis.example.com/server",
		ServerRoot("https://gis.example.com/server/rest/info"))
	assert.Equal("https://gis.example.com/server",
		ServerRoot("https://gis.example.com/server/rest"))
	assert.Equal("https://gis.example.com/server",
		ServerRoot("https://gis.example.com/server/"))
	assert.Equal("https://gis.example.com",
		ServerRoot("https://gis.example.com"))
}

func TestNormalize(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("https://gis.example.com/portal", Normalize("HTTPS://GIS.Example.com:443/portal/"))
	assert.Equal("https://gis.example.com/a/b", Normalize("https://gis.example.com//a//b"))
}
