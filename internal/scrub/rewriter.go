package scrub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// ErrDirtyWorktree is returned when Force is off and the worktree has
// uncommitted changes.
var ErrDirtyWorktree = errors.New("worktree has uncommitted changes")

// Options controls a history rewrite.
type Options struct {
	// Force skips the clean worktree check.
	Force bool
	// DryRun runs the transform over every blob but writes nothing.
	DryRun bool
	// BackupBranch, when set, is created at the original HEAD before any
	// ref moves.
	BackupBranch string
	Logger       *slog.Logger
}

// Stats counts what a rewrite touched.
type Stats struct {
	CommitsVisited   int `json:"commits_visited"`
	CommitsRewritten int `json:"commits_rewritten"`
	BlobsVisited     int `json:"blobs_visited"`
	BlobsRedacted    int `json:"blobs_redacted"`
	BlobsBinary      int `json:"blobs_binary"`
	TagsRewritten    int `json:"tags_rewritten"`
	RefsUpdated      int `json:"refs_updated"`
	ObjectsPruned    int `json:"objects_pruned"`
}

// Rewriter rewrites every object reachable from the refs of one repository.
// Objects are memoized by original hash so each blob, tree and commit is
// processed once.
type Rewriter struct {
	repo   *git.Repository
	opts   Options
	logger *slog.Logger

	fn      BlobFunc
	blobs   map[plumbing.Hash]plumbing.Hash
	trees   map[plumbing.Hash]plumbing.Hash
	commits map[plumbing.Hash]plumbing.Hash
	tags    map[plumbing.Hash]plumbing.Hash
	stats   Stats
}

// Open opens the repository at path, searching parent directories for .git.
func Open(path string, opts Options) (*Rewriter, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository %s: %w", path, err)
	}
	return NewRewriter(repo, opts), nil
}

func NewRewriter(repo *git.Repository, opts Options) *Rewriter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Rewriter{repo: repo, opts: opts, logger: logger}
}

type refUpdate struct {
	name plumbing.ReferenceName
	from plumbing.Hash
	to   plumbing.Hash
}

// Run applies fn to every blob in history and moves refs to the rewritten
// objects. A non-bare worktree is hard-reset to the new HEAD afterwards, and
// objects left unreachable are deleted.
func (r *Rewriter) Run(ctx context.Context, fn BlobFunc) (*Stats, error) {
	r.fn = fn
	r.blobs = make(map[plumbing.Hash]plumbing.Hash)
	r.trees = make(map[plumbing.Hash]plumbing.Hash)
	r.commits = make(map[plumbing.Hash]plumbing.Hash)
	r.tags = make(map[plumbing.Hash]plumbing.Hash)
	r.stats = Stats{}

	wt, err := r.repo.Worktree()
	if err != nil && !errors.Is(err, git.ErrIsBareRepository) {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}
	if wt != nil && !r.opts.Force {
		status, err := wt.Status()
		if err != nil {
			return nil, fmt.Errorf("failed to read worktree status: %w", err)
		}
		if !status.IsClean() {
			return nil, ErrDirtyWorktree
		}
	}

	refs, err := r.hashRefs()
	if err != nil {
		return nil, err
	}

	head, err := r.repo.Head()
	if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	if r.opts.BackupBranch != "" && !r.opts.DryRun && head != nil {
		if err := r.createBackup(head.Hash()); err != nil {
			return nil, err
		}
	}

	var updates []refUpdate
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		nh, err := r.rewriteObject(ctx, ref.Hash())
		if err != nil {
			return nil, fmt.Errorf("failed to rewrite %s: %w", ref.Name(), err)
		}
		if nh != ref.Hash() {
			updates = append(updates, refUpdate{name: ref.Name(), from: ref.Hash(), to: nh})
		}
	}

	r.stats.RefsUpdated = len(updates)
	if r.opts.DryRun {
		r.logger.Debug("dry run complete", "refs", len(updates))
		return &r.stats, nil
	}

	for _, u := range updates {
		if err := r.repo.Storer.SetReference(plumbing.NewHashReference(u.name, u.to)); err != nil {
			return nil, fmt.Errorf("failed to update %s: %w", u.name, err)
		}
		r.logger.Debug("ref updated", "ref", u.name.String(), "old", u.from.String(), "new", u.to.String())
	}

	if wt != nil && head != nil {
		newHead, err := r.repo.Head()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
		}
		if newHead.Hash() != head.Hash() {
			if err := wt.Reset(&git.ResetOptions{Commit: newHead.Hash(), Mode: git.HardReset}); err != nil {
				return nil, fmt.Errorf("failed to reset worktree: %w", err)
			}
		}
	}

	if len(updates) > 0 {
		if err := r.purgeUnreachable(); err != nil {
			return nil, err
		}
	}

	return &r.stats, nil
}

// purgeUnreachable deletes the objects no ref reaches any more so replaced
// blobs cannot be read back. Packs are rebuilt from reachable objects only.
// A backup branch keeps the old history, secret included, reachable.
func (r *Rewriter) purgeUnreachable() error {
	err := r.repo.Prune(git.PruneOptions{Handler: func(h plumbing.Hash) error {
		if err := r.repo.DeleteObject(h); err != nil {
			return err
		}
		r.stats.ObjectsPruned++
		return nil
	}})
	switch {
	case errors.Is(err, git.ErrLooseObjectsNotSupported):
		r.logger.Debug("storage has no loose objects to prune")
	case err != nil:
		return fmt.Errorf("failed to prune objects: %w", err)
	}

	pos, ok := r.repo.Storer.(storer.PackedObjectStorer)
	if !ok {
		return nil
	}
	packs, err := pos.ObjectPacks()
	if err != nil {
		return fmt.Errorf("failed to list packs: %w", err)
	}
	if len(packs) == 0 {
		return nil
	}
	if err := r.repo.RepackObjects(&git.RepackConfig{}); err != nil {
		return fmt.Errorf("failed to repack objects: %w", err)
	}
	r.logger.Debug("objects pruned", "loose", r.stats.ObjectsPruned, "packs_replaced", len(packs))
	return nil
}

// hashRefs lists every ref that points directly at an object. Symbolic refs
// follow their target.
func (r *Rewriter) hashRefs() ([]*plumbing.Reference, error) {
	iter, err := r.repo.References()
	if err != nil {
		return nil, fmt.Errorf("failed to list references: %w", err)
	}
	defer iter.Close()

	var refs []*plumbing.Reference
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() == plumbing.HashReference {
			refs = append(refs, ref)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list references: %w", err)
	}
	return refs, nil
}

func (r *Rewriter) createBackup(h plumbing.Hash) error {
	name := plumbing.NewBranchReferenceName(r.opts.BackupBranch)
	if _, err := r.repo.Reference(name, false); err == nil {
		return fmt.Errorf("backup branch %s already exists", r.opts.BackupBranch)
	}
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(name, h)); err != nil {
		return fmt.Errorf("failed to create backup branch: %w", err)
	}
	r.logger.Debug("backup branch created", "branch", r.opts.BackupBranch, "commit", h.String())
	return nil
}

func (r *Rewriter) rewriteObject(ctx context.Context, h plumbing.Hash) (plumbing.Hash, error) {
	obj, err := r.repo.Storer.EncodedObject(plumbing.AnyObject, h)
	if err != nil {
		return h, err
	}
	switch obj.Type() {
	case plumbing.CommitObject:
		return r.rewriteCommit(ctx, h)
	case plumbing.TagObject:
		return r.rewriteTag(ctx, h)
	case plumbing.TreeObject:
		return r.rewriteTree(h)
	case plumbing.BlobObject:
		return r.rewriteBlob(h)
	default:
		return h, nil
	}
}

type commitFrame struct {
	hash   plumbing.Hash
	commit *object.Commit
}

// rewriteCommit rewrites h and its ancestry parents first, without recursion
// so long histories do not grow the goroutine stack.
func (r *Rewriter) rewriteCommit(ctx context.Context, h plumbing.Hash) (plumbing.Hash, error) {
	if nh, ok := r.commits[h]; ok {
		return nh, nil
	}

	stack := []commitFrame{{hash: h}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if _, done := r.commits[top.hash]; done {
			stack = stack[:len(stack)-1]
			continue
		}
		if top.commit == nil {
			c, err := object.GetCommit(r.repo.Storer, top.hash)
			if err != nil {
				return h, fmt.Errorf("failed to read commit %s: %w", top.hash, err)
			}
			top.commit = c
		}

		c := top.commit
		var pending []plumbing.Hash
		for _, p := range c.ParentHashes {
			if _, ok := r.commits[p]; !ok {
				pending = append(pending, p)
			}
		}
		if len(pending) > 0 {
			for _, p := range pending {
				stack = append(stack, commitFrame{hash: p})
			}
			continue
		}

		if err := ctx.Err(); err != nil {
			return h, err
		}
		nh, err := r.writeCommit(c)
		if err != nil {
			return h, err
		}
		r.commits[c.Hash] = nh
		stack = stack[:len(stack)-1]
	}
	return r.commits[h], nil
}

func (r *Rewriter) writeCommit(c *object.Commit) (plumbing.Hash, error) {
	r.stats.CommitsVisited++

	tree, err := r.rewriteTree(c.TreeHash)
	if err != nil {
		return c.Hash, err
	}
	parents := make([]plumbing.Hash, len(c.ParentHashes))
	changed := tree != c.TreeHash
	for i, p := range c.ParentHashes {
		parents[i] = r.commits[p]
		if parents[i] != p {
			changed = true
		}
	}
	if !changed {
		return c.Hash, nil
	}

	nc := *c
	nc.TreeHash = tree
	nc.ParentHashes = parents
	nc.PGPSignature = ""

	nh, err := r.store(nc.Encode)
	if err != nil {
		return c.Hash, fmt.Errorf("failed to write commit for %s: %w", c.Hash, err)
	}
	r.stats.CommitsRewritten++
	r.logger.Debug("commit rewritten", "old", c.Hash.String(), "new", nh.String())
	return nh, nil
}

func (r *Rewriter) rewriteTree(h plumbing.Hash) (plumbing.Hash, error) {
	if nh, ok := r.trees[h]; ok {
		return nh, nil
	}

	tree, err := object.GetTree(r.repo.Storer, h)
	if err != nil {
		return h, fmt.Errorf("failed to read tree %s: %w", h, err)
	}

	entries := make([]object.TreeEntry, len(tree.Entries))
	changed := false
	for i, e := range tree.Entries {
		entries[i] = e
		var nh plumbing.Hash
		switch e.Mode {
		case filemode.Dir:
			nh, err = r.rewriteTree(e.Hash)
		case filemode.Submodule:
			continue
		default:
			nh, err = r.rewriteBlob(e.Hash)
		}
		if err != nil {
			return h, err
		}
		if nh != e.Hash {
			entries[i].Hash = nh
			changed = true
		}
	}

	nh := h
	if changed {
		nt := &object.Tree{Entries: entries}
		nh, err = r.store(nt.Encode)
		if err != nil {
			return h, fmt.Errorf("failed to write tree for %s: %w", h, err)
		}
	}
	r.trees[h] = nh
	return nh, nil
}

func (r *Rewriter) rewriteBlob(h plumbing.Hash) (plumbing.Hash, error) {
	if nh, ok := r.blobs[h]; ok {
		return nh, nil
	}

	data, err := r.readBlob(h)
	if err != nil {
		return h, err
	}
	r.stats.BlobsVisited++

	nh := h
	out, outcome := r.fn(data)
	switch outcome {
	case OutcomeBinary:
		r.stats.BlobsBinary++
	case OutcomeRedacted:
		r.stats.BlobsRedacted++
		nh, err = r.store(func(o plumbing.EncodedObject) error {
			o.SetType(plumbing.BlobObject)
			w, err := o.Writer()
			if err != nil {
				return err
			}
			defer w.Close()
			_, err = w.Write(out)
			return err
		})
		if err != nil {
			return h, fmt.Errorf("failed to write blob for %s: %w", h, err)
		}
		r.logger.Debug("blob redacted", "old", h.String(), "new", nh.String())
	}
	r.blobs[h] = nh
	return nh, nil
}

func (r *Rewriter) readBlob(h plumbing.Hash) ([]byte, error) {
	blob, err := object.GetBlob(r.repo.Storer, h)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", h, err)
	}
	rd, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", h, err)
	}
	defer rd.Close()
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", h, err)
	}
	return data, nil
}

func (r *Rewriter) rewriteTag(ctx context.Context, h plumbing.Hash) (plumbing.Hash, error) {
	if nh, ok := r.tags[h]; ok {
		return nh, nil
	}

	tag, err := object.GetTag(r.repo.Storer, h)
	if err != nil {
		return h, fmt.Errorf("failed to read tag %s: %w", h, err)
	}
	target, err := r.rewriteObject(ctx, tag.Target)
	if err != nil {
		return h, err
	}

	nh := h
	if target != tag.Target {
		nt := *tag
		nt.Target = target
		nt.PGPSignature = ""
		nh, err = r.store(nt.Encode)
		if err != nil {
			return h, fmt.Errorf("failed to write tag %s: %w", tag.Name, err)
		}
		r.stats.TagsRewritten++
		r.logger.Debug("tag rewritten", "tag", tag.Name, "new", nh.String())
	}
	r.tags[h] = nh
	return nh, nil
}

// store encodes an object and writes it, or only hashes it on a dry run.
func (r *Rewriter) store(encode func(plumbing.EncodedObject) error) (plumbing.Hash, error) {
	obj := r.repo.Storer.NewEncodedObject()
	if err := encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	if r.opts.DryRun {
		return obj.Hash(), nil
	}
	return r.repo.Storer.SetEncodedObject(obj)
}
