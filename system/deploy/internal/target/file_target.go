package target

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	errorc "certdeploy/pkg/core/err"
	"certdeploy/pkg/core/logger"
	"certdeploy/pkg/server/transport"
	"certdeploy/system/deploy/internal/model"

	"gopkg.in/yaml.v3"
)

// fileDocument 配置文件结构
type fileDocument struct {
	Sites        []fileSite        `yaml:"sites"`
	Certificates []fileCertificate `yaml:"certificates,omitempty"`
}

type fileSite struct {
	ID       string              `yaml:"id"`
	Name     string              `yaml:"name"`
	Bindings []model.BindingInfo `yaml:"bindings"`
}

type fileCertificate struct {
	Thumbprint string `yaml:"thumbprint"`
	Path       string `yaml:"path"`
}

// FileTarget 以单个 YAML 文件保存站点绑定，每次修改整体读取、修改、原子写回
type FileTarget struct {
	id            string
	path          string
	reloadCommand string
	client        transport.Client
	log           *logger.Log
	err           *errorc.ErrorBuilder
}

// NewFileTarget client 用于执行重载命令，可为 nil
func NewFileTarget(id, path, reloadCommand string, client transport.Client, log *logger.Log) *FileTarget {
	return &FileTarget{
		id:            id,
		path:          path,
		reloadCommand: reloadCommand,
		client:        client,
		log:           log.WithEntryName("FileTarget").WithField("target_id", id),
		err:           errorc.NewErrorBuilder("FileTarget"),
	}
}

func (t *FileTarget) ID() string {
	return t.id
}

func (t *FileTarget) ListSites(ctx context.Context) ([]model.TargetSite, error) {
	doc, err := t.load(ctx)
	if err != nil {
		return nil, err
	}
	sites := make([]model.TargetSite, 0, len(doc.Sites))
	for _, s := range doc.Sites {
		sites = append(sites, model.TargetSite{ID: s.ID, Name: s.Name})
	}
	return sites, nil
}

func (t *FileTarget) ListBindings(ctx context.Context, siteID string) ([]model.BindingInfo, error) {
	doc, err := t.load(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.BindingInfo
	for _, s := range doc.Sites {
		if siteID != "" && s.ID != siteID {
			continue
		}
		for _, b := range s.Bindings {
			b.SiteID = s.ID
			b.SiteName = s.Name
			out = append(out, b)
		}
	}
	return out, nil
}

func (t *FileTarget) AddOrUpdateBinding(ctx context.Context, binding model.BindingInfo, addNew bool) model.ActionStep {
	doc, err := t.load(ctx)
	if err != nil {
		return errorStep(binding, errorc.ParseError(err).RootCause())
	}

	// 1. 定位站点
	idx := -1
	for i := range doc.Sites {
		if doc.Sites[i].ID == binding.SiteID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errorStep(binding, "site not found: "+binding.SiteID)
	}
	site := &doc.Sites[idx]

	// 2. 按端点替换或追加
	replaced := false
	for i := range site.Bindings {
		b := site.Bindings[i]
		b.SiteID = site.ID
		if b.Key() == binding.Key() && strings.EqualFold(b.Protocol, binding.Protocol) {
			site.Bindings[i] = stripSite(binding)
			replaced = true
			break
		}
	}
	if !replaced {
		if !addNew {
			return errorStep(binding, "binding not found")
		}
		site.Bindings = append(site.Bindings, stripSite(binding))
	}

	// 3. 写回并重载
	if err := ctx.Err(); err != nil {
		return errorStep(binding, err.Error())
	}
	if err := t.save(doc); err != nil {
		return errorStep(binding, errorc.ParseError(err).RootCause())
	}
	step := model.ActionStep{Title: binding.Spec(), Description: "binding applied"}
	if msg := t.reload(ctx); msg != "" {
		step.HasWarning = true
		step.Description = msg
	}
	return step
}

func (t *FileTarget) ImportCertificate(ctx context.Context, certPath string) (model.CertificateIdentity, error) {
	identity, err := readIdentity(certPath, "file")
	if err != nil {
		return identity, err
	}
	doc, err := t.load(ctx)
	if err != nil {
		return identity, err
	}
	for _, c := range doc.Certificates {
		if c.Thumbprint == identity.Thumbprint {
			return identity, nil
		}
	}
	doc.Certificates = append(doc.Certificates, fileCertificate{Thumbprint: identity.Thumbprint, Path: certPath})
	if err := t.save(doc); err != nil {
		return identity, err
	}
	t.log.WithField("thumbprint", identity.Thumbprint).Info("证书已导入")
	return identity, nil
}

func (t *FileTarget) load(ctx context.Context) (*fileDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, t.err.New("操作已取消", err)
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileDocument{}, nil
		}
		return nil, t.err.New("读取绑定配置失败", err)
	}
	doc := &fileDocument{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, t.err.New("解析绑定配置失败", err).ValidWithCtx()
	}
	return doc, nil
}

func (t *FileTarget) save(doc *fileDocument) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return t.err.New("序列化绑定配置失败", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return t.err.New("创建目录失败", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return t.err.New("写入绑定配置失败", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return t.err.New("替换绑定配置失败", err)
	}
	return nil
}

// reload 执行重载命令，失败时返回提示信息
func (t *FileTarget) reload(ctx context.Context) string {
	if t.reloadCommand == "" || t.client == nil {
		return ""
	}
	res, err := t.client.Run(ctx, t.reloadCommand)
	if err != nil {
		t.log.WithErr(err).Warn("执行重载命令失败")
		return "reload failed: " + err.Error()
	}
	if !res.Success() {
		t.log.WithField("stderr", res.Stderr).Warn("重载命令返回非零退出码")
		return "reload failed: " + strings.TrimSpace(res.Stderr)
	}
	return ""
}

func stripSite(b model.BindingInfo) model.BindingInfo {
	b.SiteID = ""
	b.SiteName = ""
	return b
}
