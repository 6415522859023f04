/*
Package iconcache is the embedding surface of the icon cache.

A Provider owns one instance of every component: the three cache tiers,
the usage tracker, the worker pool, the completion dispatcher, the
loader and the preloader. Nothing is global; an application creates one
Provider and passes it to whatever needs icons.

	provider, err := iconcache.New(iconcache.Options{
		Resolver: resolver.NewFromDirs(dirs, resolver.Options{}),
		Renderer: myRenderer,
		CacheDir: utils.CacheRoot(),
	})
	if err != nil {
		return err
	}
	defer provider.Close(context.Background())

	resp := provider.RequestImage("text-plain?fallback=unknown", image.Pt(48, 48))
	resp.OnFinished(func(r *loader.Response) {
		tex, err := provider.Texture("main-window", r)
		...
	})

Completions arrive on the Provider's dispatcher. Without
Options.Dispatcher the Provider runs its own serial dispatcher goroutine;
a UI loop can supply a dispatch.Loop and pump it instead.
*/
package iconcache
