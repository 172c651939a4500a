package provider

// NewDefaultRegistry builds the production registry, registering adapters
// in the same order as validate.SupportedPlatforms so a URL's selected
// provider always matches the one that already accepted it at the
// validation boundary.
func NewDefaultRegistry(deps Deps) *Registry {
	r := NewRegistry()
	r.Register("youtube.com", NewYouTube(deps))
	r.Register("youtu.be", NewYouTube(deps))
	r.Register("instagram.com", NewInstagram(deps))
	r.Register("vk.com", NewVK(deps))
	r.Register("rutube.ru", NewRuTube(deps))
	r.Register("tiktok.com", NewTikTok(deps))
	return r
}
