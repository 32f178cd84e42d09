package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供请求分类、命中来源等字段，供拦截日志复用。
func RequestFields(method, url, class, source string, navigate bool) logrus.Fields {
	return logrus.Fields{
		"method":   method,
		"url":      url,
		"class":    class,
		"source":   source,
		"navigate": navigate,
	}
}

// GenerationFields 描述缓存代际相关事件（install/activate）的公共字段。
func GenerationFields(action, version string) logrus.Fields {
	return logrus.Fields{
		"action":  action,
		"version": version,
	}
}
