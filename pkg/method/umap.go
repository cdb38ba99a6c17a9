package method

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openproblems/dimred/pkg/dataset"
	"github.com/openproblems/dimred/pkg/neighbors"
	"github.com/openproblems/dimred/pkg/normalize"
	"github.com/openproblems/dimred/pkg/pca"
	"github.com/openproblems/dimred/pkg/umap"
)

// UMAPInfo describes UMAPLogCPM1kHVG.
var UMAPInfo = Info{
	Name:       "umap_logCPM_1kHVG",
	MethodName: "Uniform Manifold Approximation and Projection (UMAP), as implemented by scanpy (logCPM, 1kHVG)",
	PaperName:  "UMAP: Uniform Manifold Approximation and Projection for Dimension Reduction",
	PaperURL:   "https://arxiv.org/abs/1802.03426",
	PaperYear:  2018,
	CodeURL:    "https://github.com/lmcinnes/umap",
	IsBaseline: false,
}

// UMAPLogCPM1kHVG embeds ds in two dimensions. Counts are log-CPM
// normalized, restricted to 1000 highly variable features and reduced to 50
// principal components; the neighbour graph uses the first opts.NPCA of them
// and UMAP lays the graph out.
//
// The returned dataset keeps the observations of ds in order and holds only
// the highly variable features.
func UMAPLogCPM1kHVG(ctx context.Context, ds *dataset.Dataset, opts Options) (*dataset.Dataset, error) {
	if opts.NPCA == 0 {
		opts.NPCA = DefaultNPCA
	}
	start := time.Now()

	out, err := normalize.Apply(ctx, ds, normalize.LogCPMHVGNormalizer)
	if err != nil {
		return nil, err
	}
	if out, err = out.SubsetVars(out.Var.Bools[dataset.VarHighlyVariable]); err != nil {
		return nil, fmt.Errorf("highly variable subset: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scores, p, err := pca.FitTransform(out.X, pca.DefaultComponents)
	if err != nil {
		return nil, fmt.Errorf("pca: %w", err)
	}
	if out, err = out.WithObsm(dataset.ObsmPCA, scores); err != nil {
		return nil, err
	}
	if out, err = out.WithVarm(dataset.VarmPCs, p.Loadings()); err != nil {
		return nil, err
	}
	out = out.WithUns(dataset.UnsPCA, p.Summary())
	slog.Debug("pca fitted", "n_comps", p.ReducedDim, "variance_ratio", p.TotalVarianceExplained())

	if out, err = neighbors.Compute(ctx, out, neighbors.Options{NPCs: opts.NPCA}); err != nil {
		return nil, fmt.Errorf("neighbors: %w", err)
	}
	if out, err = umap.Embed(ctx, out, umap.Options{}); err != nil {
		return nil, fmt.Errorf("umap: %w", err)
	}

	if out, err = out.WithObsm(dataset.ObsmEmbedding, out.Obsm[dataset.ObsmUMAP]); err != nil {
		return nil, err
	}
	out = out.WithUns(dataset.UnsCodeVersion, umap.Version())

	slog.Debug("method finished", "method", UMAPInfo.Name, "dataset", ds.Name,
		"n_obs", out.NObs(), "n_vars", out.NVars(), "n_pca", opts.NPCA, "test", opts.Test,
		"elapsed", time.Since(start))
	return out, nil
}
