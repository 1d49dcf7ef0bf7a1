// Package crawler fetches listing pages from leak sites and forums and turns
// each row into a model.Item.
//
// A Spider is configured by a config.SiteConfig: start URLs, CSS selectors
// evaluated with goquery, the next_page link to follow and a politeness
// delay. Rows whose title and author are already known are skipped before
// they reach the pipeline.
//
//	client := torClient.SiteClient(tor.Session{Cookie: site.Cookie, Headers: site.Headers})
//	spider := crawler.NewSpider(site, client, crawler.WithSeen(dedupStage.Seen))
//	summary, err := p.Run(ctx, spider)
package crawler
