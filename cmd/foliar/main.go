// Command foliar runs the nested spatial cross-validation for one species
// group: load and join the covariate and cover CSVs, derive spectral
// indices, optionally tune hyperparameters, run the outer/inner procedure,
// write the metric artifacts, and train/export the final model bundle.
//
// Configuration precedence: built-in defaults, then a JSON config file
// (--config), then CLI flags. Paths may also come from a .env file in the
// working directory.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/veglab/foliar/covariates"
	"github.com/veglab/foliar/forest"
	"github.com/veglab/foliar/nestedcv"
	"github.com/veglab/foliar/taskcache"
	"github.com/veglab/foliar/tune"
)

// fileConfig is the JSON config file schema. Pointer fields distinguish
// "absent" from zero so the file only overrides what it sets.
type fileConfig struct {
	Group             *string  `json:"group"`
	RoundDate         *string  `json:"round_date"`
	Predictors        []string `json:"predictors"`
	PresenceThreshold *float64 `json:"presence_threshold"`
	OuterFolds        *int     `json:"outer_folds"`
	InnerFolds        *int     `json:"inner_folds"`
	Seed              *int64   `json:"seed"`
	InitPoints        *int     `json:"init_points"`
	NIter             *int     `json:"n_iter"`

	CovariateInput *string `json:"covariate_input"`
	CoverInput     *string `json:"cover_input"`
	OutDir         *string `json:"out_dir"`

	Indices []covariates.IndexSpec `json:"derived_indices"`
}

func main() {
	// .env is optional and must load before flag defaults read the
	// environment; a missing file is not an error.
	_ = godotenv.Load()

	covariateInput := flag.String("covariate-input", os.Getenv("FOLIAR_COVARIATES"), "path to the covariate CSV")
	coverInput := flag.String("cover-input", os.Getenv("FOLIAR_COVER"), "path to the species cover CSV")
	group := flag.String("group", "", "species/vegetation group being modeled")
	roundDate := flag.String("round-date", "", "mapping round tag recorded in artifacts (e.g. 20260815)")
	predictorsFlag := flag.String("predictors", "", "comma-separated predictor columns (empty = all covariate columns)")
	presenceThreshold := flag.Float64("presence-threshold", 0.5, "minimum predicted cover (percent) for a positive composite call")
	outerFolds := flag.Int("outer-folds", 10, "number of outer folds")
	innerFolds := flag.Int("inner-folds", 10, "number of inner folds per outer training partition")
	seed := flag.Int64("seed", 42, "random seed for shuffling and fold assignment")
	outDir := flag.String("out", "output", "output directory for metrics, results and models")
	configPath := flag.String("config", "", "path to JSON run-config file (optional)")

	doTune := flag.Bool("tune", false, "run hyperparameter search before the validation run")
	initPoints := flag.Int("init-points", 5, "uniform exploratory draws for hyperparameter search")
	nIter := flag.Int("n-iter", 25, "guided draws for hyperparameter search")

	cacheDir := flag.String("cache", "output/cache", "task cache directory for resumable runs (empty disables)")
	force := flag.Bool("force", false, "recompute even when a cached result matches the run parameters")

	corrCutoff := flag.Float64("corr-cutoff", 0.98, "report predictor pairs with |Pearson r| at or above this cutoff (0 disables)")
	printConfig := flag.Bool("print-effective-config", false, "print the effective (JSON+CLI merged) configuration and exit")

	flag.Parse()

	cfg := nestedcv.RunConfig{
		Group:             *group,
		RoundDate:         *roundDate,
		PresenceThreshold: presenceThreshold,
		OuterFolds:        *outerFolds,
		InnerFolds:        *innerFolds,
		Seed:              *seed,
		InitPoints:        *initPoints,
		NIter:             *nIter,
	}
	if *predictorsFlag != "" {
		for _, p := range strings.Split(*predictorsFlag, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Predictors = append(cfg.Predictors, p)
			}
		}
	}

	var indices []covariates.IndexSpec
	if *configPath != "" {
		fc, err := loadFileConfig(*configPath)
		if err != nil {
			log.Fatalf("load config %s: %v", *configPath, err)
		}
		applyFileConfig(fc, &cfg, covariateInput, coverInput, outDir, flagsExplicitlySet())
		indices = fc.Indices
	}

	if *printConfig {
		out, _ := json.MarshalIndent(struct {
			nestedcv.RunConfig
			CovariateInput string                 `json:"covariate_input"`
			CoverInput     string                 `json:"cover_input"`
			OutDir         string                 `json:"out_dir"`
			Indices        []covariates.IndexSpec `json:"derived_indices"`
		}{cfg, *covariateInput, *coverInput, *outDir, indices}, "", "  ")
		fmt.Println(string(out))
		return
	}

	if *covariateInput == "" || *coverInput == "" {
		fmt.Fprintln(os.Stderr, "both --covariate-input and --cover-input are required (or FOLIAR_COVARIATES / FOLIAR_COVER)")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if cfg.Group == "" {
		log.Fatal("--group is required")
	}

	if err := run(cfg, *covariateInput, *coverInput, *outDir, *cacheDir, *force, *doTune, *corrCutoff, indices); err != nil {
		log.Fatalf("run failed: %v", err)
	}
}

// runKeyMaterial is everything that changes a validation result and so must
// feed the cache key: the run config, the derived-index specs, and the
// hyperparameters the search settled on (nil when tuning is off).
type runKeyMaterial struct {
	Config  nestedcv.RunConfig     `json:"config"`
	Indices []covariates.IndexSpec `json:"derived_indices"`
	Tuned   map[string]float64     `json:"tuned_params"`
}

func run(cfg nestedcv.RunConfig, covariateInput, coverInput, outDir, cacheDir string, force, doTune bool, corrCutoff float64, indices []covariates.IndexSpec) error {
	log.Printf("[Foliar] loading covariates from %s, cover from %s", covariateInput, coverInput)
	tbl, err := covariates.Load(covariateInput, coverInput, cfg.Predictors)
	if err != nil {
		return err
	}
	if len(indices) > 0 {
		if err := tbl.DeriveIndices(indices); err != nil {
			return err
		}
	}
	if err := tbl.VerifyTensorBatches(); err != nil {
		return err
	}
	log.Printf("[Foliar] %d observations, %d predictors", tbl.Len(), len(tbl.Predictors))

	if corrCutoff > 0 {
		pairs, err := tbl.ScreenCorrelated(corrCutoff)
		if err != nil {
			return err
		}
		for _, p := range pairs {
			log.Printf("[Foliar] correlated predictors: %s ~ %s (r=%.3f)", p.A, p.B, p.R)
		}
	}

	factories := nestedcv.Factories{}
	var tuned map[string]float64
	if doTune {
		factories, tuned, err = tuneFactories(cfg, tbl)
		if err != nil {
			return err
		}
	}

	runner := nestedcv.NewRunner(cfg, factories)

	var cache *taskcache.Cache
	var key string
	if cacheDir != "" {
		cache = taskcache.New(cacheDir, force)
		key, err = taskcache.Key(runKeyMaterial{Config: cfg, Indices: indices, Tuned: tuned},
			covariateInput, coverInput)
		if err != nil {
			return err
		}
	}

	var res *nestedcv.Result
	cached := false
	if cache != nil {
		res = &nestedcv.Result{}
		cached, err = cache.Load(key, res)
		if err != nil {
			return err
		}
		if cached {
			log.Printf("[Foliar] resumed validation result from cache key %s", key[:12])
		}
	}
	if !cached {
		res, err = runner.Run(tbl)
		if err != nil {
			return err
		}
		if cache != nil {
			if err := cache.Store(key, res); err != nil {
				return err
			}
		}
	}

	log.Printf("[Foliar] pooled AUC=%.4f accuracy=%.4f meanThreshold=%.4f R2=%.4f RMSE=%.4f MAE=%.4f (%d cover rows)",
		res.Summary.AUC, res.Summary.Accuracy, res.Summary.MeanThreshold,
		res.Summary.RSquared, res.Summary.RMSE, res.Summary.MAE, res.Summary.CoverRows)

	if err := runner.WriteArtifacts(outDir, res); err != nil {
		return err
	}

	bundle, err := runner.TrainFinal(tbl, res)
	if err != nil {
		return err
	}
	modelPath := filepath.Join(outDir, fmt.Sprintf("%s_%s.model", cfg.Group, cfg.RoundDate))
	if err := bundle.Save(modelPath); err != nil {
		return err
	}
	if err := nestedcv.ExportTreeDumps(outDir, bundle); err != nil {
		return err
	}
	log.Printf("[Foliar] artifacts written to %s, model saved to %s", outDir, modelPath)
	return nil
}

// tuneFactories runs the hyperparameter search on a single grouped split
// of the table and returns factories pinned to the best draw, along with
// the chosen hyperparameters for the cache key.
func tuneFactories(cfg nestedcv.RunConfig, tbl *covariates.Table) (nestedcv.Factories, map[string]float64, error) {
	space := []tune.Param{
		{Name: "trees", Min: 100, Max: 800, Integer: true},
		{Name: "max_depth", Min: 4, Max: 16, Integer: true},
		{Name: "min_leaf", Min: 1, Max: 10, Integer: true},
		{Name: "stages", Min: 100, Max: 600, Integer: true},
		{Name: "learning_rate", Min: 0.01, Max: 0.2},
	}

	eval := func(params map[string]float64) (float64, error) {
		evalCfg := cfg
		evalCfg.Quiet = true
		// a cheaper 3x3 split keeps the search tractable
		evalCfg.OuterFolds = 3
		evalCfg.InnerFolds = 3
		runner := nestedcv.NewRunner(evalCfg, factoriesFrom(params, cfg.Seed))
		res, err := runner.Run(cloneTable(tbl))
		if err != nil {
			return 0, err
		}
		return res.Summary.AUC, nil
	}

	scores, err := tune.Search(tune.Config{
		InitPoints: cfg.InitPoints,
		NIter:      cfg.NIter,
		Seed:       cfg.Seed,
		Workers:    1, // each eval already fills the CPU with tree fitting
	}, space, eval)
	if err != nil {
		return nestedcv.Factories{}, nil, fmt.Errorf("hyperparameter search: %w", err)
	}
	best, err := tune.Best(scores)
	if err != nil {
		return nestedcv.Factories{}, nil, err
	}
	log.Printf("[Tune] best draw AUC=%.4f params=%v", best.Value, best.Params)
	return factoriesFrom(best.Params, cfg.Seed), best.Params, nil
}

func factoriesFrom(params map[string]float64, seed int64) nestedcv.Factories {
	return nestedcv.Factories{
		Classifier: func() *forest.Classifier {
			return forest.NewClassifier(forest.ClassifierConfig{
				Trees:    int(params["trees"]),
				MaxDepth: int(params["max_depth"]),
				MinLeaf:  int(params["min_leaf"]),
				Seed:     seed,
			})
		},
		Regressor: func() *forest.Regressor {
			return forest.NewRegressor(forest.RegressorConfig{
				Stages:       int(params["stages"]),
				LearningRate: params["learning_rate"],
				MaxDepth:     int(params["max_depth"]),
				MinLeaf:      int(params["min_leaf"]),
				Seed:         seed,
			})
		},
	}
}

// cloneTable copies row order so concurrent/tuning runs do not disturb the
// shuffle state of the main table.
func cloneTable(t *covariates.Table) *covariates.Table {
	out := &covariates.Table{Predictors: t.Predictors}
	out.Rows = append(out.Rows, t.Rows...)
	return out
}

func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &fc, nil
}

// applyFileConfig merges file values beneath explicitly-set CLI flags:
// a value from the file wins only when its flag was left at the default.
func applyFileConfig(fc *fileConfig, cfg *nestedcv.RunConfig, covariateInput, coverInput, outDir *string, set map[string]bool) {
	if fc.Group != nil && !set["group"] {
		cfg.Group = *fc.Group
	}
	if fc.RoundDate != nil && !set["round-date"] {
		cfg.RoundDate = *fc.RoundDate
	}
	if len(fc.Predictors) > 0 && !set["predictors"] {
		cfg.Predictors = fc.Predictors
	}
	if fc.PresenceThreshold != nil && !set["presence-threshold"] {
		cfg.PresenceThreshold = fc.PresenceThreshold
	}
	if fc.OuterFolds != nil && !set["outer-folds"] {
		cfg.OuterFolds = *fc.OuterFolds
	}
	if fc.InnerFolds != nil && !set["inner-folds"] {
		cfg.InnerFolds = *fc.InnerFolds
	}
	if fc.Seed != nil && !set["seed"] {
		cfg.Seed = *fc.Seed
	}
	if fc.InitPoints != nil && !set["init-points"] {
		cfg.InitPoints = *fc.InitPoints
	}
	if fc.NIter != nil && !set["n-iter"] {
		cfg.NIter = *fc.NIter
	}
	if fc.CovariateInput != nil && !set["covariate-input"] {
		*covariateInput = *fc.CovariateInput
	}
	if fc.CoverInput != nil && !set["cover-input"] {
		*coverInput = *fc.CoverInput
	}
	if fc.OutDir != nil && !set["out"] {
		*outDir = *fc.OutDir
	}
}

// flagsExplicitlySet reports which flags the user passed on the command
// line, for config-file merge precedence.
func flagsExplicitlySet() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}
