// Package ipifhub aggregates IPIF prosopographical data from many
// repositories and resolves which contributed persons and sources denote the
// same real-world entity.
//
// Entities sharing any identifier URI, directly or through a chain of other
// entities, form one cluster (a merge person or merge source). The partition
// is kept up to date incrementally on every write, and each committed unit of
// work emits one deduplicated wave of index refresh tasks.
//
// # Basic Usage
//
// Open a store and a queue, and create the hub:
//
//	st, err := sqlstore.OpenSQLite(ctx, "./ipifhub.db")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer st.Close()
//
//	q := queue.NewMemoryQueue()
//	hub, err := ipifhub.NewHub(st, q, &ipifhub.Config{BaseURI: "https://hub.example.org"}, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Writing
//
// All writes happen in a unit of work. Clustering runs inside the same
// transaction; refresh tasks are queued only after it commits:
//
//	err = hub.Update(ctx, func(ctx context.Context, u *ipifhub.Unit) error {
//		if err := u.SaveRepo(ctx, &types.Repo{Slug: "alpha", EndpointURI: "https://alpha.org/ipif"}); err != nil {
//			return err
//		}
//		_, err := u.SaveEntity(ctx, &types.Entity{
//			Kind:    types.PersonKind,
//			Repo:    "alpha",
//			LocalID: "42",
//			Label:   "Ada Lovelace",
//			URIs:    []string{"http://viaf.org/viaf/12345"},
//		})
//		return err
//	})
//
// # Indexing
//
// An indexsync.Synchronizer consumes the queue and keeps a search index in
// step with the store:
//
//	sync := indexsync.New(st, q, index.NewMemoryIndex(), index.NewProjector(baseURI, ""))
//	go sync.Run(ctx)
//
// # Maintenance
//
// Recluster rebuilds a kind's partition from scratch; Reindex queues a
// refresh of every record.
package ipifhub
