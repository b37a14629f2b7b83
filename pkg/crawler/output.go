package crawler

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/parse"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// Manifest file names inside the site output directory
const (
	MetadataFileName = "mirror_metadata.yaml"
	MappingFileName  = "url_mapping.tsv"
	TreeFileName     = "mirror_tree.txt"
)

// SiteOutputDir returns <outputBaseDir>/<host> for a target URL
func SiteOutputDir(outputBaseDir, targetURL string) (string, error) {
	_, parsed, err := parse.ParseAndNormalize(targetURL)
	if err != nil {
		return "", fmt.Errorf("%w: target_url '%s': %w", utils.ErrConfigValidation, targetURL, err)
	}
	scope, err := parse.NewScope(parsed, nil, nil)
	if err != nil {
		return "", err
	}
	return filepath.Join(outputBaseDir, utils.HostDirName(scope.Host())), nil
}

// ReadMetadata loads the run manifest of the last completed run in siteOutputDir
func ReadMetadata(siteOutputDir string) (*models.CrawlMetadata, error) {
	data, err := os.ReadFile(filepath.Join(siteOutputDir, MetadataFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: reading run manifest: %w", utils.ErrFilesystem, err)
	}
	var meta models.CrawlMetadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: parsing run manifest: %w", utils.ErrParsing, err)
	}
	return &meta, nil
}

// OutputManager writes the per-run manifest files next to the mirror: the YAML run
// metadata, the URL to local path mapping and an ASCII tree of the output directory.
type OutputManager struct {
	log           *logrus.Entry
	siteKey       string
	siteOutputDir string
	runID         string
}

// NewOutputManager creates an OutputManager with a fresh run ID
func NewOutputManager(log *logrus.Entry, siteKey, siteOutputDir string) *OutputManager {
	return &OutputManager{
		log:           log.WithField("component", "output"),
		siteKey:       siteKey,
		siteOutputDir: siteOutputDir,
		runID:         uuid.NewString(),
	}
}

// RunID identifies this crawl run in the manifest and in plugin save metadata
func (om *OutputManager) RunID() string { return om.runID }

// Write produces all manifest files. Each file is attempted even if an earlier one failed;
// the first error is returned.
func (om *OutputManager) Write(result *models.CrawlResult, saved []models.SavedFile) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(om.writeMetadataYAML(result, len(saved)))
	keep(om.writeMappingFile(result))
	keep(utils.SaveMirrorTree(om.siteOutputDir, filepath.Join(om.siteOutputDir, TreeFileName), om.log))
	return firstErr
}

// pageMetadata lists the cached pages sorted by URL
func pageMetadata(result *models.CrawlResult) []models.PageMetadata {
	urls := make([]string, 0, len(result.Pages))
	for u := range result.Pages {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	pages := make([]models.PageMetadata, 0, len(urls))
	for _, u := range urls {
		body := result.Pages[u]
		meta := models.PageMetadata{
			URL:         u,
			Depth:       result.Depths[u],
			ContentHash: utils.CalculateBytesSHA256(body),
			Bytes:       len(body),
		}
		if parsed, err := url.Parse(u); err == nil {
			meta.LocalFilePath = parse.LocalPagePath(parsed)
		}
		pages = append(pages, meta)
	}
	return pages
}

// writeMetadataYAML writes the run summary and per-page metadata
func (om *OutputManager) writeMetadataYAML(result *models.CrawlResult, savedFiles int) error {
	yamlFilePath := filepath.Join(om.siteOutputDir, MetadataFileName)
	om.log.Debugf("Preparing to write crawl metadata to: %s", yamlFilePath)

	metadata := models.CrawlMetadata{
		RunID:          om.runID,
		SiteKey:        om.siteKey,
		TargetURL:      result.TargetURL,
		CrawlStartTime: result.StartTime,
		CrawlEndTime:   result.EndTime,
		Cancelled:      result.Cancelled,
		Stats:          result.Stats,
		SavedFiles:     savedFiles,
		Pages:          pageMetadata(result),
	}

	yamlData, err := yaml.Marshal(&metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal crawl metadata to YAML for site '%s': %w", om.siteKey, err)
	}
	if err := os.WriteFile(yamlFilePath, yamlData, 0644); err != nil {
		return fmt.Errorf("%w: write metadata YAML file '%s' for site '%s': %w", utils.ErrFilesystem, yamlFilePath, om.siteKey, err)
	}
	om.log.Infof("Wrote crawl metadata (%d pages) to %s", len(metadata.Pages), yamlFilePath)
	return nil
}

// writeMappingFile writes one "url<TAB>local path" line per cached page and per static
// resource that exists on disk, sorted by URL
func (om *OutputManager) writeMappingFile(result *models.CrawlResult) error {
	mapping := make(map[string]string, len(result.Pages)+len(result.StaticResources))
	for u := range result.Pages {
		if parsed, err := url.Parse(u); err == nil {
			mapping[u] = parse.LocalPagePath(parsed)
		}
	}
	for u := range result.StaticResources {
		parsed, err := url.Parse(u)
		if err != nil {
			continue
		}
		local, err := parse.LocalAssetPath(parsed)
		if err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(om.siteOutputDir, filepath.FromSlash(local))); err == nil {
			mapping[u] = local
		}
	}

	urls := make([]string, 0, len(mapping))
	for u := range mapping {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	mappingFilePath := filepath.Join(om.siteOutputDir, MappingFileName)
	file, err := os.Create(mappingFilePath)
	if err != nil {
		return fmt.Errorf("%w: create TSV mapping file '%s': %w", utils.ErrFilesystem, mappingFilePath, err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, u := range urls {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", u, mapping[u]); err != nil {
			return fmt.Errorf("%w: write TSV mapping file: %w", utils.ErrFilesystem, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: flush TSV mapping file: %w", utils.ErrFilesystem, err)
	}
	om.log.Infof("Wrote URL mapping (%d entries) to %s", len(urls), mappingFilePath)
	return nil
}
