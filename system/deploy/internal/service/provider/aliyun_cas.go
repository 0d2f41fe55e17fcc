package provider

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"certdeploy/pkg/server/credential"
	"certdeploy/system/deploy/internal/model"

	cas "github.com/alibabacloud-go/cas-20200407/v2/client"
	cdn "github.com/alibabacloud-go/cdn-20180510/v4/client"
	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	dcdn "github.com/alibabacloud-go/dcdn-20180115/v3/client"
	"github.com/alibabacloud-go/tea/tea"
	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// AliyunCAS 上传证书到阿里云证书服务，并可同步到 CDN/DCDN/OSS 自定义域名
type AliyunCAS struct{}

// bucketCnames OSS GetBucketCname 返回的 XML
type bucketCnames struct {
	XMLName xml.Name `xml:"ListCnameResult"`
	Cnames  []struct {
		Domain string `xml:"Domain"`
	} `xml:"Cname"`
}

var aliyunServices = []string{"cdn", "dcdn", "oss"}

func (p *AliyunCAS) Definition() model.ProviderDefinition {
	return model.ProviderDefinition{
		ID:                "aliyun_cas",
		Title:             "Deploy to Aliyun",
		Description:       "Upload the certificate to Aliyun CAS and optionally apply it to CDN, DCDN and OSS custom domains.",
		SupportedContexts: model.ContextExternalCredential,
		Parameters: []model.ProviderParameter{
			{Key: "region", Name: "Region", Type: "string", DefaultValue: "cn-hangzhou"},
			{Key: "services", Name: "Apply To", Type: "string", Description: "Comma separated: cdn, dcdn, oss."},
			{Key: "domains", Name: "Domains", Type: "string", Description: "Comma separated. Defaults to the certificate names."},
		},
	}
}

func (p *AliyunCAS) Validate(ctx context.Context, params *ExecutionParams) []model.ActionResult {
	out := ValidateParameters(p.Definition(), params.Task)
	for _, s := range splitList(params.Param(p.Definition(), "services")) {
		if !containsFold(aliyunServices, s) {
			out = append(out, model.Failure(fmt.Sprintf("Unsupported service '%s'.", s)))
		}
	}
	if params.Credentials != nil {
		if params.Credentials[credential.SecretAccessKeyID] == "" || params.Credentials[credential.SecretAccessKeySecret] == "" {
			out = append(out, model.Failure("Credential must contain an access key id and secret."))
		}
	}
	return out
}

func (p *AliyunCAS) Execute(ctx context.Context, params *ExecutionParams) model.ActionResult {
	def := p.Definition()
	region := params.Param(def, "region")
	services := splitList(params.Param(def, "services"))
	domains := splitList(params.Param(def, "domains"))
	if len(domains) == 0 && params.Certificate != nil {
		domains = params.Certificate.DomainSet.Names()
	}

	if params.IsPreviewOnly {
		return model.Success(fmt.Sprintf("Would upload to Aliyun CAS (%s) and apply to [%s] for %s.",
			region, strings.Join(services, ", "), strings.Join(domains, ", ")))
	}

	certPEM, keyPEM, err := certificateFiles(params.Certificate)
	if err != nil {
		return model.Failure(err.Error())
	}
	fullchain, privkey := string(certPEM), string(keyPEM)

	// 1. 上传到 CAS
	config := &openapi.Config{
		AccessKeyId:     tea.String(params.Credentials[credential.SecretAccessKeyID]),
		AccessKeySecret: tea.String(params.Credentials[credential.SecretAccessKeySecret]),
		Endpoint:        tea.String(fmt.Sprintf("cas.%s.aliyuncs.com", region)),
	}
	casClient, err := cas.NewClient(config)
	if err != nil {
		return model.Failure("Could not create Aliyun CAS client: " + err.Error())
	}
	certName := uniqueCertName(domains)
	uploadResp, err := casClient.UploadUserCertificate(&cas.UploadUserCertificateRequest{
		Name: tea.String(certName),
		Cert: tea.String(fullchain),
		Key:  tea.String(privkey),
	})
	if err != nil {
		return model.Failure("Upload to Aliyun CAS failed: " + err.Error())
	}
	params.Log.WithField("cert_name", certName).WithField("cert_id", tea.Int64Value(uploadResp.Body.CertId)).Info("证书上传到阿里云 CAS 成功")

	// 2. 同步到云产品，单个域名失败记为子步骤错误
	result := model.Success(fmt.Sprintf("Uploaded to Aliyun CAS as %s.", certName))
	for _, svc := range services {
		var steps []model.ActionStep
		switch strings.ToLower(svc) {
		case "cdn":
			steps = p.applyCDN(params, config, domains, certName, fullchain, privkey)
		case "dcdn":
			steps = p.applyDCDN(params, config, domains, certName, fullchain, privkey)
		case "oss":
			steps = p.applyOSS(params, region, domains, fullchain, privkey)
		}
		result.Steps = append(result.Steps, steps...)
	}
	if model.AnyError(result.Steps) {
		result.IsWarning = true
		result.Message += " Some cloud resources could not be updated."
	}
	return result
}

func (p *AliyunCAS) applyCDN(params *ExecutionParams, base *openapi.Config, domains []string, certName, fullchain, privkey string) []model.ActionStep {
	config := *base
	config.Endpoint = tea.String("cdn.aliyuncs.com")
	client, err := cdn.NewClient(&config)
	if err != nil {
		return []model.ActionStep{{Title: "CDN", HasError: true, Description: err.Error()}}
	}

	var steps []model.ActionStep
	for _, domain := range domains {
		detail, err := client.DescribeCdnDomainDetail(&cdn.DescribeCdnDomainDetailRequest{DomainName: tea.String(domain)})
		if err != nil || detail.Body == nil || detail.Body.GetDomainDetailModel == nil {
			params.Log.WithField("domain", domain).Debug("CDN 域名不存在，跳过")
			continue
		}
		_, err = client.SetCdnDomainSSLCertificate(&cdn.SetCdnDomainSSLCertificateRequest{
			DomainName:  tea.String(domain),
			CertName:    tea.String(certName),
			CertType:    tea.String("upload"),
			SSLProtocol: tea.String("on"),
			SSLPub:      tea.String(fullchain),
			SSLPri:      tea.String(privkey),
		})
		steps = append(steps, cloudStep("CDN", domain, err))
	}
	return steps
}

func (p *AliyunCAS) applyDCDN(params *ExecutionParams, base *openapi.Config, domains []string, certName, fullchain, privkey string) []model.ActionStep {
	config := *base
	config.Endpoint = tea.String("dcdn.aliyuncs.com")
	client, err := dcdn.NewClient(&config)
	if err != nil {
		return []model.ActionStep{{Title: "DCDN", HasError: true, Description: err.Error()}}
	}

	var steps []model.ActionStep
	for _, domain := range domains {
		detail, err := client.DescribeDcdnDomainDetail(&dcdn.DescribeDcdnDomainDetailRequest{DomainName: tea.String(domain)})
		if err != nil || detail.Body == nil || detail.Body.DomainDetail == nil {
			params.Log.WithField("domain", domain).Debug("DCDN 域名不存在，跳过")
			continue
		}
		_, err = client.SetDcdnDomainSSLCertificate(&dcdn.SetDcdnDomainSSLCertificateRequest{
			DomainName:  tea.String(domain),
			CertName:    tea.String(certName),
			CertType:    tea.String("upload"),
			SSLProtocol: tea.String("on"),
			SSLPub:      tea.String(fullchain),
			SSLPri:      tea.String(privkey),
		})
		steps = append(steps, cloudStep("DCDN", domain, err))
	}
	return steps
}

// applyOSS 遍历 Bucket 的自定义域名，按字面匹配证书域名
func (p *AliyunCAS) applyOSS(params *ExecutionParams, region string, domains []string, fullchain, privkey string) []model.ActionStep {
	client, err := oss.New(fmt.Sprintf("oss-%s.aliyuncs.com", region),
		params.Credentials[credential.SecretAccessKeyID], params.Credentials[credential.SecretAccessKeySecret])
	if err != nil {
		return []model.ActionStep{{Title: "OSS", HasError: true, Description: err.Error()}}
	}

	var steps []model.ActionStep
	marker := ""
	for {
		list, err := client.ListBuckets(oss.Marker(marker), oss.MaxKeys(100))
		if err != nil {
			return append(steps, model.ActionStep{Title: "OSS", HasError: true, Description: err.Error()})
		}
		for _, bucket := range list.Buckets {
			raw, err := client.GetBucketCname(bucket.Name)
			if err != nil {
				continue
			}
			var cnames bucketCnames
			if err := xml.Unmarshal([]byte(raw), &cnames); err != nil {
				params.Log.WithErr(err).WithField("bucket", bucket.Name).Warn("解析 CNAME 失败")
				continue
			}
			for _, c := range cnames.Cnames {
				if !containsFold(domains, c.Domain) {
					continue
				}
				err := client.PutBucketCnameWithCertificate(bucket.Name, oss.PutBucketCname{
					Cname: c.Domain,
					CertificateConfiguration: &oss.CertificateConfiguration{
						Certificate: fullchain,
						PrivateKey:  privkey,
						Force:       true,
					},
				})
				steps = append(steps, cloudStep("OSS "+bucket.Name, c.Domain, err))
			}
		}
		if !list.IsTruncated {
			return steps
		}
		marker = list.NextMarker
	}
}

func cloudStep(service, domain string, err error) model.ActionStep {
	step := model.ActionStep{Category: model.CategoryPostRequestTasks, Title: service, Description: fmt.Sprintf("Certificate applied to %s.", domain)}
	if err != nil {
		step.HasError = true
		step.Description = fmt.Sprintf("Failed to apply certificate to %s. [%s]", domain, err.Error())
	}
	return step
}

// uniqueCertName CAS 证书名只允许字母数字与短横线，长度不超过 100
func uniqueCertName(domains []string) string {
	base := "certificate"
	if len(domains) > 0 {
		base = domains[0]
	}
	var sb strings.Builder
	for _, ch := range base {
		switch {
		case (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '-':
			sb.WriteRune(ch)
		case ch == '.' || ch == '*':
			sb.WriteRune('-')
		}
	}
	name := fmt.Sprintf("%s-%d", sb.String(), time.Now().UnixNano())
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
